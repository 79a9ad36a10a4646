package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/accountpool/apiserver/internal/filter"
	"github.com/accountpool/apiserver/types"
)

// AccountSchema declares the filterable surface of the accounts table.
var AccountSchema = &filter.Schema{
	Fields: map[string]filter.Field{
		"id":            {Kind: filter.KindInt, Ops: []string{"neq", "in", "not_in", "gt", "gte", "lt", "lte"}},
		"uuid":          {Kind: filter.KindString, Ops: []string{"in"}},
		"user_id":       {Kind: filter.KindInt, Ops: []string{"neq", "in"}},
		"number":        {Kind: filter.KindString, Ops: []string{"neq", "in", "like", "ilike"}},
		"type":          {Kind: filter.KindInt, Ops: []string{"neq", "in"}},
		"status":        {Kind: filter.KindInt, Ops: []string{"neq", "in", "not_in"}},
		"session_count": {Kind: filter.KindInt, Ops: []string{"neq", "gt", "gte", "lt", "lte"}},
		"sent":          {Kind: filter.KindInt, Ops: []string{"gt", "gte", "lt", "lte"}},
		"msg_limit":     {Kind: filter.KindInt, Ops: []string{"gt", "gte", "lt", "lte"}},
		"cooldown":      {Kind: filter.KindInt, Ops: []string{"isnull", "gt", "lt"}},
		"file_name":     {Kind: filter.KindString, Ops: []string{"ilike", "isnull"}},
		"tags":          {Kind: filter.KindString, Ops: []string{"contains", "any", "all", "isnull"}},
		"info_1":        {Kind: filter.KindString, Ops: []string{"neq", "in", "ilike", "isnull"}},
		"info_2":        {Kind: filter.KindString, Ops: []string{"neq", "in", "ilike", "isnull"}},
		"info_3":        {Kind: filter.KindString, Ops: []string{"neq", "in", "ilike", "isnull"}},
		"created_at":    {Kind: filter.KindTime, Ops: []string{"gt", "gte", "lt", "lte"}},
		"updated_at":    {Kind: filter.KindTime, Ops: []string{"gt", "gte", "lt", "lte", "isnull"}},
	},
	OrderingField: filter.DefaultOrderingField,
	SearchField:   "search",
	SearchColumns: []string{"number", "info_1", "info_2", "info_3"},
}

var accountMapping = Mapping[types.Account]{
	Table: "accounts",
	Columns: []string{
		"uuid", "user_id", "number", "type", "status", "session_count",
		"sent", "msg_limit", "cooldown", "file_name", "tags",
		"info_1", "info_2", "info_3", "created_at", "updated_at",
	},
	Schema: AccountSchema,
	Values: func(a *types.Account) []any {
		return []any{
			a.UUID, a.UserID, a.Number, a.Type, a.Status, a.SessionCount,
			a.Sent, a.MsgLimit, a.Cooldown, a.FileName, a.Tags,
			a.Info1, a.Info2, a.Info3, a.CreatedAt, a.UpdatedAt,
		}
	},
	Scan: func(row Scanner, a *types.Account) error {
		return row.Scan(
			&a.ID, &a.UUID, &a.UserID, &a.Number, &a.Type, &a.Status,
			&a.SessionCount, &a.Sent, &a.MsgLimit, &a.Cooldown, &a.FileName,
			&a.Tags, &a.Info1, &a.Info2, &a.Info3, &a.CreatedAt, &a.UpdatedAt,
		)
	},
	ID:    func(a *types.Account) int64 { return a.ID },
	SetID: func(a *types.Account, id int64) { a.ID = id },
}

// AccountStore handles persistence for pool accounts, including the leasing
// protocol in lease.go.
type AccountStore struct {
	*Repository[types.Account]
}

func NewAccountStore(db DBTX, log *zap.Logger) *AccountStore {
	return &AccountStore{Repository: NewRepository(db, accountMapping, log)}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *AccountStore) WithTx(tx *sql.Tx) *AccountStore {
	return &AccountStore{Repository: s.Repository.WithTx(tx)}
}

// Create inserts a new account, stamping its external key and creation time
// when the caller left them unset.
func (s *AccountStore) Create(ctx context.Context, a *types.Account) error {
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return s.Repository.Create(ctx, a)
}

// GetByUUID returns the account with the given external key.
func (s *AccountStore) GetByUUID(ctx context.Context, key uuid.UUID) (types.Account, error) {
	return s.GetBy(ctx, map[string]any{"uuid": key.String()})
}
