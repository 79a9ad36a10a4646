package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/accountpool/apiserver/internal/filter"
	"github.com/accountpool/apiserver/internal/store"
	"github.com/accountpool/apiserver/types"
)

// ErrInvalidCredentials reports a failed username/password check.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserService manages operator accounts and their credentials.
type UserService struct {
	users *store.UserStore
	log   *zap.Logger
}

func NewUserService(users *store.UserStore, log *zap.Logger) *UserService {
	return &UserService{users: users, log: log}
}

// RegisterInput carries the fields accepted at sign-up.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Register creates a user with a hashed password and a fresh API key.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (types.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return types.User{}, err
	}

	user := types.User{
		Username:     input.Username,
		Email:        input.Email,
		Name:         input.Name,
		Role:         "user",
		APIKey:       newAPIKey(),
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, &user); err != nil {
		return types.User{}, err
	}
	return user, nil
}

// Authenticate verifies a username/password pair.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (types.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return types.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ResolveAPIKey returns the owner of a device API key.
func (s *UserService) ResolveAPIKey(ctx context.Context, apiKey string) (types.User, error) {
	return s.users.GetByAPIKey(ctx, apiKey)
}

// RotateAPIKey replaces the user's API key and returns the new one.
func (s *UserService) RotateAPIKey(ctx context.Context, userID int64) (string, error) {
	key := newAPIKey()
	_, err := s.users.Update(ctx, store.ByID{ID: userID},
		map[string]any{"api_key": key}, store.ReturningCount)
	if err != nil {
		return "", err
	}
	return key, nil
}

func (s *UserService) Get(ctx context.Context, id int64) (types.User, error) {
	return s.users.Get(ctx, id)
}

// List returns one page of users plus the filtered total.
func (s *UserService) List(ctx context.Context, f *filter.Filter, offset, limit int) (types.UserList, error) {
	if f == nil {
		f = filter.New(store.UserSchema)
	}
	if !f.HasOrdering() {
		if err := f.OrderedBy(defaultOrdering); err != nil {
			return types.UserList{}, err
		}
	}

	items, err := s.users.List(ctx, f, offset, limit)
	if err != nil {
		return types.UserList{}, err
	}
	total, err := s.users.Count(ctx, f)
	if err != nil {
		return types.UserList{}, err
	}
	return types.UserList{Data: items, Total: total}, nil
}

// Update patches one user by id and returns the stored state.
func (s *UserService) Update(ctx context.Context, id int64, patch map[string]any) (types.User, error) {
	res, err := s.users.Update(ctx, store.ByID{ID: id}, patch, store.ReturningObjects)
	if err != nil {
		return types.User{}, err
	}
	return res.Objects[0], nil
}

func (s *UserService) Delete(ctx context.Context, id int64) error {
	return s.users.Delete(ctx, id)
}

func newAPIKey() string {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(buf[:])
}
