package api

import (
	"fmt"
	"html"
	"net/http"

	"github.com/labstack/echo/v4"
)

const pageShell = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>%s</title></head>
<body data-page="%s"%s>
<main id="app"></main>
</body>
</html>
`

func renderPage(c echo.Context, title, page, attrs string) error {
	return c.HTML(http.StatusOK, fmt.Sprintf(pageShell, html.EscapeString(title), page, attrs))
}

// registerPages serves the HTML shells the browser client mounts into. The
// board pages require the session marker, the landing page is skipped when
// it is present.
func registerPages(e *echo.Echo) {
	guard := SessionGuard()
	e.GET("/", func(c echo.Context) error {
		return renderPage(c, "Taskboard", "landing", "")
	}, guard)
	e.GET("/login", func(c echo.Context) error {
		return renderPage(c, "Sign in", "login", "")
	})
	e.GET("/signup", func(c echo.Context) error {
		return renderPage(c, "Sign up", "signup", "")
	})
	e.GET("/board", func(c echo.Context) error {
		return renderPage(c, "Boards", "board", "")
	}, guard)
	e.GET("/board/:id", func(c echo.Context) error {
		attr := fmt.Sprintf(` data-task-id="%s"`, html.EscapeString(c.Param("id")))
		return renderPage(c, "Board", "board", attr)
	}, guard)
}
