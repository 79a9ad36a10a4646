package store

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/accountpool/apiserver/internal/filter"
	"github.com/accountpool/apiserver/types"
)

// SessionSchema declares the filterable surface of the sessions table.
var SessionSchema = &filter.Schema{
	Fields: map[string]filter.Field{
		"id":         {Kind: filter.KindInt, Ops: []string{"neq", "in"}},
		"account_id": {Kind: filter.KindInt, Ops: []string{"neq", "in"}},
		"ext_id":     {Kind: filter.KindString, Ops: []string{"neq", "in", "ilike"}},
		"status":     {Kind: filter.KindInt, Ops: []string{"neq", "in", "not_in"}},
		"msg_count":  {Kind: filter.KindInt, Ops: []string{"gt", "gte", "lt", "lte"}},
		"info_1":     {Kind: filter.KindString, Ops: []string{"neq", "in", "ilike", "isnull"}},
		"info_2":     {Kind: filter.KindString, Ops: []string{"neq", "in", "ilike", "isnull"}},
		"info_3":     {Kind: filter.KindString, Ops: []string{"neq", "in", "ilike", "isnull"}},
		"created_at": {Kind: filter.KindTime, Ops: []string{"gt", "gte", "lt", "lte"}},
		"updated_at": {Kind: filter.KindTime, Ops: []string{"gt", "gte", "lt", "lte"}},
	},
	OrderingField: filter.DefaultOrderingField,
}

var sessionMapping = Mapping[types.Session]{
	Table: "sessions",
	Columns: []string{
		"account_id", "ext_id", "status", "msg_count",
		"info_1", "info_2", "info_3", "created_at", "updated_at",
	},
	Schema: SessionSchema,
	Values: func(s *types.Session) []any {
		return []any{
			s.AccountID, s.ExtID, s.Status, s.MsgCount,
			s.Info1, s.Info2, s.Info3, s.CreatedAt, s.UpdatedAt,
		}
	},
	Scan: func(row Scanner, s *types.Session) error {
		return row.Scan(&s.ID, &s.AccountID, &s.ExtID, &s.Status, &s.MsgCount,
			&s.Info1, &s.Info2, &s.Info3, &s.CreatedAt, &s.UpdatedAt)
	},
	ID:    func(s *types.Session) int64 { return s.ID },
	SetID: func(s *types.Session, id int64) { s.ID = id },
}

// SessionStore handles persistence for messaging sessions.
type SessionStore struct {
	*Repository[types.Session]
}

func NewSessionStore(db DBTX, log *zap.Logger) *SessionStore {
	return &SessionStore{Repository: NewRepository(db, sessionMapping, log)}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *SessionStore) WithTx(tx *sql.Tx) *SessionStore {
	return &SessionStore{Repository: s.Repository.WithTx(tx)}
}

// Create inserts a new session, stamping audit times when unset.
func (s *SessionStore) Create(ctx context.Context, sess *types.Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now
	}
	return s.Repository.Create(ctx, sess)
}
