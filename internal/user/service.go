package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/chatgame/service-auth/internal/user/entity"
	userrepo "github.com/chatgame/service-auth/internal/user/repo"
	"github.com/chatgame/service-auth/pkg/utilities"
)

// PasswordHasher defines the minimal hashing interface (abstract so we can
// swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// Store is the credential store contract the service depends on.
type Store interface {
	Create(ctx context.Context, u *entity.User) error
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByID(ctx context.Context, id string) (*entity.User, error)
	GetPublicByID(ctx context.Context, id string) (*entity.PublicUser, error)
	TouchLastLogin(ctx context.Context, id string) error
}

var (
	ErrValidation     = errors.New("validation failed")
	ErrDuplicateEmail = errors.New("email already registered")
	ErrUserNotFound   = errors.New("user not found")
	ErrBadCredentials = errors.New("invalid credentials")
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// UserService orchestrates registration and login flows.
type UserService struct {
	store  Store
	hasher PasswordHasher
}

func NewUserService(store Store, hasher PasswordHasher) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: 10}
	}
	return &UserService{store: store, hasher: hasher}
}

// Register validates input, hashes the password and creates the account.
func (s *UserService) Register(ctx context.Context, name, email, password, confirm string) (*entity.PublicUser, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" || password == "" {
		return nil, fmt.Errorf("%w: name, email and password are required", ErrValidation)
	}
	if !emailPattern.MatchString(email) {
		return nil, fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	if len(password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrValidation)
	}
	if password != confirm {
		return nil, fmt.Errorf("%w: passwords do not match", ErrValidation)
	}

	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	u := &entity.User{
		ID:           utilities.NewUserID(),
		Name:         name,
		Email:        email,
		Username:     deriveUsername(email),
		PasswordHash: hash,
		Status:       entity.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, u); err != nil {
		// races with a concurrent registration land here
		if userrepo.IsUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return u.Public(), nil
}

// Login verifies credentials and stamps last_login_at on success. A wrong
// password must not touch the login timestamp.
func (s *UserService) Login(ctx context.Context, email, password string) (*entity.PublicUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if !s.hasher.Verify(u.PasswordHash, password) {
		return nil, ErrBadCredentials
	}

	if err := s.store.TouchLastLogin(ctx, u.ID); err != nil {
		return nil, err
	}
	return u.Public(), nil
}

// GetPublic resolves a user by ID for the auth gate, excluding the password
// hash from the projection.
func (s *UserService) GetPublic(ctx context.Context, id string) (*entity.PublicUser, error) {
	v, err := s.store.GetPublicByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return v, nil
}

// deriveUsername falls back to the email local-part, matching how accounts
// without an explicit username are created.
func deriveUsername(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
