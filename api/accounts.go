package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"taskboard/domain"
	"taskboard/identity"
	"taskboard/synchronizer"
)

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID     string               `json:"id"`
	Email  string               `json:"email"`
	Phone  string               `json:"phone,omitempty"`
	Token  string               `json:"token,omitempty"`
	Notice *synchronizer.Notice `json:"notice,omitempty"`
}

func destructive(title, description string) *synchronizer.Notice {
	return &synchronizer.Notice{Variant: synchronizer.VariantDestructive, Title: title, Description: description}
}

func (s *server) signUp(c echo.Context, m *requestMetrics) error {
	if s.accounts == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "sign-up is disabled"})
	}
	var req signUpRequest
	if err := decodeBody(c, &req); err != nil {
		m.Fail("decode", err)
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	u, err := s.accounts.SignUp(c.Request().Context(), req.Email, req.Password, req.Phone)
	switch {
	case errors.Is(err, domain.ErrValidation):
		m.Fail("validation", err)
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Notice: destructive("Sign-up failed.", err.Error())})
	case errors.Is(err, identity.ErrAccountExists):
		m.Fail("conflict", err)
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error(), Notice: destructive("Sign-up failed.", err.Error())})
	case err != nil:
		m.Fail("accounts", err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "account store unavailable", Notice: destructive("Sign-up failed.", "Please try again later.")})
	}
	return c.JSON(http.StatusCreated, accountResponse{
		ID:    u.ID,
		Email: u.Email,
		Phone: u.Phone,
		Notice: &synchronizer.Notice{
			Variant:     synchronizer.VariantDefault,
			Title:       "Sign-up succeeded.",
			Description: "You can sign in now.",
		},
	})
}

func (s *server) signIn(c echo.Context, m *requestMetrics) error {
	if s.accounts == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "sign-in is disabled"})
	}
	var req signInRequest
	if err := decodeBody(c, &req); err != nil {
		m.Fail("decode", err)
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	token, u, err := s.accounts.SignIn(c.Request().Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		m.Fail("credentials", err)
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Notice: destructive("Sign-in failed.", err.Error())})
	case err != nil:
		m.Fail("accounts", err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "account store unavailable", Notice: destructive("Sign-in failed.", "Please try again later.")})
	}

	ttl := s.sessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   c.IsTLS(),
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, accountResponse{
		ID:    u.ID,
		Email: u.Email,
		Phone: u.Phone,
		Token: token,
		Notice: &synchronizer.Notice{
			Variant:     synchronizer.VariantDefault,
			Title:       "Signed in.",
			Description: "Welcome back.",
		},
	})
}

func (s *server) signOut(c echo.Context, m *requestMetrics) error {
	if userID, err := s.auth.UserIDFromAuthHeader(authHeaderFromRequest(c.Request())); err == nil {
		s.registry.Drop(userID)
	}
	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.NoContent(http.StatusNoContent)
}
