package api

import (
	"context"

	"taskboard/domain"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Accounts signs users up and in.
type Accounts interface {
	SignUp(ctx context.Context, email, password, phone string) (domain.User, error)
	SignIn(ctx context.Context, email, password string) (string, domain.User, error)
}

// Deduper prevents processing of duplicate mutations.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the mutation fails.
	Remove(ctx context.Context, userID, key string) error
}
