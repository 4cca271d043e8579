package repo

import (
	"context"
	"strings"

	"github.com/collabmate/collabmate/db/models"
	"github.com/collabmate/collabmate/db/tkv"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser claims the email index before writing the user, so two
// concurrent registrations for one address cannot both succeed.
func (r *Repo) CreateUser(ctx context.Context, name, email, password string) (*models.User, error) {
	kv, err := r.kv(ctx)
	if err != nil {
		return nil, err
	}

	hash, err := r.hashPassword(password)
	if err != nil {
		return nil, err
	}

	now := r.timestamp()
	user := &models.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(name),
		Email:        normalizeEmail(email),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	emailKey := key(userEmailPrefix, user.Email)
	if err := kv.SetNX(emailKey, user.ID); err != nil {
		if tkv.IsErrKeyExists(err) {
			return nil, ErrEmailTaken
		}
		return nil, errors.Wrap(err, "claim email")
	}

	if err := putJSON(kv, key(userPrefix, user.ID), user); err != nil {
		if derr := kv.Delete(emailKey); derr != nil {
			r.logger.Error("Could not release email after failed registration", "email", user.Email, "error", derr)
		}
		return nil, err
	}

	r.logger.Debug("User created", "user", user.ID)
	return user, nil
}

func (r *Repo) GetUser(ctx context.Context, id string) (*models.User, error) {
	kv, err := r.kv(ctx)
	if err != nil {
		return nil, err
	}
	return getJSON[models.User](kv, key(userPrefix, id))
}

func (r *Repo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	kv, err := r.kv(ctx)
	if err != nil {
		return nil, err
	}
	id, err := kv.Get(key(userEmailPrefix, normalizeEmail(email)))
	if err != nil {
		if tkv.IsErrKeyNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup email")
	}
	return getJSON[models.User](kv, key(userPrefix, id))
}

// Authenticate returns ErrInvalidCredentials for both an unknown email and
// a wrong password.
func (r *Repo) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := r.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "compare password")
	}
	return user, nil
}

func (r *Repo) hashPassword(password string) (string, error) {
	cost := r.hashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(hash), nil
}
