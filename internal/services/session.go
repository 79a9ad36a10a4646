package services

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/accountpool/apiserver/internal/filter"
	"github.com/accountpool/apiserver/internal/store"
	"github.com/accountpool/apiserver/types"
)

// SessionService manages messaging sessions and the stale-session sweep.
type SessionService struct {
	db       *sql.DB
	sessions *store.SessionStore
	accounts *store.AccountStore
	log      *zap.Logger
}

func NewSessionService(db *sql.DB, sessions *store.SessionStore, accounts *store.AccountStore, log *zap.Logger) *SessionService {
	return &SessionService{db: db, sessions: sessions, accounts: accounts, log: log}
}

func (s *SessionService) Get(ctx context.Context, id int64) (types.Session, error) {
	return s.sessions.Get(ctx, id)
}

// List returns one page of sessions plus the filtered total.
func (s *SessionService) List(ctx context.Context, f *filter.Filter, offset, limit int) (types.SessionList, error) {
	if f == nil {
		f = filter.New(store.SessionSchema)
	}
	if !f.HasOrdering() {
		if err := f.OrderedBy(defaultOrdering); err != nil {
			return types.SessionList{}, err
		}
	}

	items, err := s.sessions.List(ctx, f, offset, limit)
	if err != nil {
		return types.SessionList{}, err
	}
	total, err := s.sessions.Count(ctx, f)
	if err != nil {
		return types.SessionList{}, err
	}
	return types.SessionList{Data: items, Total: total}, nil
}

func (s *SessionService) Create(ctx context.Context, sess *types.Session) error {
	return s.sessions.Create(ctx, sess)
}

// Update patches one session by id and returns the stored state.
func (s *SessionService) Update(ctx context.Context, id int64, patch map[string]any) (types.Session, error) {
	res, err := s.sessions.Update(ctx, store.ByID{ID: id}, patch, store.ReturningObjects)
	if err != nil {
		return types.Session{}, err
	}
	return res.Objects[0], nil
}

func (s *SessionService) Delete(ctx context.Context, id int64) error {
	return s.sessions.Delete(ctx, id)
}

// CloseStale finishes every active session idle since before the cutoff and
// returns the accounts those sessions were holding to the pool. Everything
// commits in one transaction; account releases are batched so the id lists
// stay bounded. Returns the number of sessions closed and accounts released.
func (s *SessionService) CloseStale(ctx context.Context, staleAfter time.Duration, batchSize int) (int, int, error) {
	if batchSize < 1 {
		batchSize = 100
	}
	now := time.Now().UTC()
	cutoff := now.Add(-staleAfter)

	var closed, released int
	err := store.Transact(ctx, s.db, func(tx *sql.Tx) error {
		ss := s.sessions.WithTx(tx)
		as := s.accounts.WithTx(tx)

		sf := filter.New(store.SessionSchema)
		if err := sf.Where("status", "eq", int64(types.SessionActive)); err != nil {
			return err
		}
		if err := sf.Where("updated_at", "lte", cutoff); err != nil {
			return err
		}

		res, err := ss.Update(ctx, store.ByFilter{Filter: sf},
			map[string]any{"status": types.SessionFinished, "updated_at": now},
			store.ReturningObjects)
		if err != nil {
			return err
		}
		closed = res.Count

		seen := make(map[int64]struct{}, len(res.Objects))
		ids := make([]int64, 0, len(res.Objects))
		for _, sess := range res.Objects {
			if _, ok := seen[sess.AccountID]; ok {
				continue
			}
			seen[sess.AccountID] = struct{}{}
			ids = append(ids, sess.AccountID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for start := 0; start < len(ids); start += batchSize {
			end := start + batchSize
			if end > len(ids) {
				end = len(ids)
			}

			af := filter.New(store.AccountSchema)
			if err := af.Where("id", "in", ids[start:end]); err != nil {
				return err
			}
			if err := af.Where("status", "eq", int64(types.AccountActive)); err != nil {
				return err
			}

			ares, err := as.Update(ctx, store.ByFilter{Filter: af},
				map[string]any{"status": types.AccountAvailable, "updated_at": now},
				store.ReturningCount)
			if err != nil {
				return err
			}
			released += ares.Count
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	s.log.Info("closed stale sessions",
		zap.Int("sessions", closed),
		zap.Int("accounts_released", released),
		zap.Time("cutoff", cutoff),
	)
	return closed, released, nil
}
