package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHasGzipEncoding(t *testing.T) {
	cases := map[string]bool{
		"":              false,
		"gzip":          true,
		"GZIP":          true,
		"br, gzip":      true,
		"x-gzip":        true,
		"deflate":       false,
		"gzip;q=0,br":   false,
		" identity , ": false,
	}
	for header, want := range cases {
		if got := hasGzipEncoding(header); got != want {
			t.Errorf("hasGzipEncoding(%q) = %v, want %v", header, got, want)
		}
	}
}

func TestSessionGuard(t *testing.T) {
	e := echo.New()
	registerPages(e)

	tests := []struct {
		name     string
		path     string
		signedIn bool
		wantCode int
		wantLoc  string
	}{
		{name: "landing anonymous", path: "/", wantCode: http.StatusOK},
		{name: "landing signed in", path: "/", signedIn: true, wantCode: http.StatusFound, wantLoc: "/board"},
		{name: "board anonymous", path: "/board", wantCode: http.StatusFound, wantLoc: "/login"},
		{name: "board task anonymous", path: "/board/7", wantCode: http.StatusFound, wantLoc: "/login"},
		{name: "board signed in", path: "/board", signedIn: true, wantCode: http.StatusOK},
		{name: "board task signed in", path: "/board/7", signedIn: true, wantCode: http.StatusOK},
		{name: "login anonymous", path: "/login", wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.signedIn {
				req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "a.b.c"})
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantLoc != "" && rec.Header().Get(echo.HeaderLocation) != tt.wantLoc {
				t.Fatalf("expected redirect to %s, got %q", tt.wantLoc, rec.Header().Get(echo.HeaderLocation))
			}
		})
	}
}

func TestBoardPageEscapesTaskID(t *testing.T) {
	e := echo.New()
	registerPages(e)
	req := httptest.NewRequest(http.MethodGet, "/board/%22%3E%3Cscript%3E", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "a.b.c"})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if strings.Contains(rec.Body.String(), "<script>") {
		t.Fatalf("task id must be escaped: %s", rec.Body.String())
	}
}
