package store

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/accountpool/apiserver/internal/filter"
	"github.com/accountpool/apiserver/types"
)

// UserSchema declares the filterable surface of the users table.
var UserSchema = &filter.Schema{
	Fields: map[string]filter.Field{
		"id":         {Kind: filter.KindInt, Ops: []string{"neq", "in", "gt", "lt"}},
		"username":   {Kind: filter.KindString, Ops: []string{"neq", "in", "ilike"}},
		"email":      {Kind: filter.KindString, Ops: []string{"neq", "ilike"}},
		"name":       {Kind: filter.KindString, Ops: []string{"ilike"}},
		"role":       {Kind: filter.KindString, Ops: []string{"neq", "in"}},
		"created_at": {Kind: filter.KindTime, Ops: []string{"gt", "gte", "lt", "lte"}},
		"updated_at": {Kind: filter.KindTime, Ops: []string{"gt", "gte", "lt", "lte"}},
	},
	OrderingField: filter.DefaultOrderingField,
	SearchField:   "search",
	SearchColumns: []string{"username", "email", "name"},
}

var userMapping = Mapping[types.User]{
	Table: "users",
	Columns: []string{
		"username", "email", "name", "role", "api_key", "password_hash",
		"created_at", "updated_at",
	},
	Schema: UserSchema,
	Values: func(u *types.User) []any {
		return []any{
			u.Username, u.Email, u.Name, u.Role, u.APIKey, u.PasswordHash,
			u.CreatedAt, u.UpdatedAt,
		}
	},
	Scan: func(row Scanner, u *types.User) error {
		return row.Scan(
			&u.ID, &u.Username, &u.Email, &u.Name, &u.Role, &u.APIKey,
			&u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
		)
	},
	ID:    func(u *types.User) int64 { return u.ID },
	SetID: func(u *types.User, id int64) { u.ID = id },
}

// UserStore handles persistence for users.
type UserStore struct {
	*Repository[types.User]
}

func NewUserStore(db DBTX, log *zap.Logger) *UserStore {
	return &UserStore{Repository: NewRepository(db, userMapping, log)}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *UserStore) WithTx(tx *sql.Tx) *UserStore {
	return &UserStore{Repository: s.Repository.WithTx(tx)}
}

// Create inserts a new user, stamping audit times when unset.
func (s *UserStore) Create(ctx context.Context, u *types.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	return s.Repository.Create(ctx, u)
}

// GetByUsername returns the user with the given login name.
func (s *UserStore) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return s.GetBy(ctx, map[string]any{"username": username})
}

// GetByAPIKey resolves the owner of a device API key.
func (s *UserStore) GetByAPIKey(ctx context.Context, apiKey string) (types.User, error) {
	return s.GetBy(ctx, map[string]any{"api_key": apiKey})
}
