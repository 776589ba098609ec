package storage

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/bytedance/sonic"

	"taskboard/domain"
)

var (
	// ErrUserNotFound is returned when no account exists for an email.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when an account already exists for an email.
	ErrUserExists = errors.New("user already exists")
)

const userPartition = "user"

type userEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	UserID       string `json:"UserId"`
	Phone        string `json:"Phone,omitempty"`
	PasswordHash string `json:"PasswordHash"`
}

func userKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetUser looks an account up by email.
func (s *Storage) GetUser(ctx context.Context, email string) (domain.User, error) {
	resp, err := s.userTable.GetEntity(ctx, userPartition, userKey(email), nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	var ent userEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: ent.UserID, Email: ent.RowKey, Phone: ent.Phone, PasswordHash: ent.PasswordHash}, nil
}

// InsertUser stores a new account keyed by its email.
func (s *Storage) InsertUser(ctx context.Context, u domain.User) error {
	payload, err := sonic.Marshal(userEntity{
		PartitionKey: userPartition,
		RowKey:       userKey(u.Email),
		UserID:       u.ID,
		Phone:        u.Phone,
		PasswordHash: u.PasswordHash,
	})
	if err != nil {
		return err
	}
	if _, err := s.userTable.AddEntity(ctx, payload, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict {
			return ErrUserExists
		}
		return err
	}
	return nil
}
