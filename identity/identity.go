// Package identity is the built-in account provider: it registers users with
// bcrypt password hashes and issues HS256 session tokens for them.
package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"taskboard/domain"
	"taskboard/storage"
)

const defaultTokenTTL = 24 * time.Hour

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountExists is returned when signing up with an email already in use.
	ErrAccountExists = errors.New("an account with this email already exists")
)

// UserStore persists accounts.
type UserStore interface {
	GetUser(ctx context.Context, email string) (domain.User, error)
	InsertUser(ctx context.Context, u domain.User) error
}

// Provider signs users up and in.
type Provider struct {
	users    UserStore
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	cost     int
	now      func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithIssuer sets the iss and aud claims of issued tokens.
func WithIssuer(issuer, audience string) Option {
	return func(p *Provider) {
		p.issuer = issuer
		p.audience = audience
	}
}

// WithTokenTTL overrides the session lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(p *Provider) { p.cost = cost }
}

// NewProvider returns a Provider signing tokens with secret.
func NewProvider(users UserStore, secret []byte, opts ...Option) *Provider {
	p := &Provider{
		users:  users,
		secret: secret,
		ttl:    defaultTokenTTL,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignUp registers a new account and returns it.
func (p *Provider) SignUp(ctx context.Context, email, password, phone string) (domain.User, error) {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return domain.User{}, &domain.ValidationError{Field: "email", Reason: "a valid email is required"}
	}
	if len(password) < 6 {
		return domain.User{}, &domain.ValidationError{Field: "password", Reason: "password must have at least 6 characters"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(email),
		Phone:        FormatPhoneNumber(phone),
		PasswordHash: string(hash),
	}
	if err := p.users.InsertUser(ctx, u); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return domain.User{}, ErrAccountExists
		}
		return domain.User{}, err
	}
	log.WithField("user", u.ID).Info("account created")
	return u, nil
}

// SignIn checks the credentials and returns a signed session token.
func (p *Provider) SignIn(ctx context.Context, email, password string) (string, domain.User, error) {
	u, err := p.users.GetUser(ctx, email)
	if errors.Is(err, storage.ErrUserNotFound) {
		return "", domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return "", domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", domain.User{}, ErrInvalidCredentials
	}
	token, err := p.Token(u.ID)
	if err != nil {
		return "", domain.User{}, err
	}
	return token, u, nil
}

// Token issues a session token for userID.
func (p *Provider) Token(userID string) (string, error) {
	return SignToken(p.secret, userID, p.issuer, p.audience, p.now(), p.ttl)
}

// TTL returns the session lifetime.
func (p *Provider) TTL() time.Duration { return p.ttl }

// SignToken returns an HS256 token whose subject is userID.
func SignToken(secret []byte, userID, issuer, audience string, now time.Time, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("token secret is empty")
	}
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

var (
	nonDigits   = regexp.MustCompile(`[^0-9]`)
	phoneGroups = regexp.MustCompile(`^(\d{2,3})(\d{3,4})(\d{4})$`)
)

// FormatPhoneNumber strips everything but digits and groups a complete
// number as 010-1234-5678. Incomplete numbers are returned as bare digits.
func FormatPhoneNumber(raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	return phoneGroups.ReplaceAllString(digits, "$1-$2-$3")
}
