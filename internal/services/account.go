package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/accountpool/apiserver/internal/filter"
	"github.com/accountpool/apiserver/internal/store"
	"github.com/accountpool/apiserver/types"
)

// Listings default to newest-first when the caller gives no ordering.
const defaultOrdering = "-created_at"

// AccountService exposes pool accounts to the API: admin CRUD, filtered
// listings and the leasing protocol.
type AccountService struct {
	db       *sql.DB
	accounts *store.AccountStore
	events   *EventPublisher
	log      *zap.Logger
}

func NewAccountService(db *sql.DB, accounts *store.AccountStore, events *EventPublisher, log *zap.Logger) *AccountService {
	return &AccountService{db: db, accounts: accounts, events: events, log: log}
}

// projectStatus overlays the paused state on an account whose cooldown
// window has not yet elapsed. Available and active rows both take the
// overlay; the stored status is untouched.
func projectStatus(a *types.Account, now time.Time) {
	if a.Status != types.AccountAvailable && a.Status != types.AccountActive {
		return
	}
	if deadline, ok := a.CooldownDeadline(); ok && !now.After(deadline) {
		a.Status = types.AccountPaused
	}
}

func (s *AccountService) Get(ctx context.Context, id int64) (types.Account, error) {
	acct, err := s.accounts.Get(ctx, id)
	if err != nil {
		return types.Account{}, err
	}
	projectStatus(&acct, time.Now().UTC())
	return acct, nil
}

func (s *AccountService) GetByUUID(ctx context.Context, key uuid.UUID) (types.Account, error) {
	acct, err := s.accounts.GetByUUID(ctx, key)
	if err != nil {
		return types.Account{}, err
	}
	projectStatus(&acct, time.Now().UTC())
	return acct, nil
}

// List returns one page of accounts plus the filtered total.
func (s *AccountService) List(ctx context.Context, f *filter.Filter, offset, limit int) (types.AccountList, error) {
	if f == nil {
		f = filter.New(store.AccountSchema)
	}
	if !f.HasOrdering() {
		if err := f.OrderedBy(defaultOrdering); err != nil {
			return types.AccountList{}, err
		}
	}

	items, err := s.accounts.List(ctx, f, offset, limit)
	if err != nil {
		return types.AccountList{}, err
	}
	total, err := s.accounts.Count(ctx, f)
	if err != nil {
		return types.AccountList{}, err
	}

	now := time.Now().UTC()
	for i := range items {
		projectStatus(&items[i], now)
	}
	return types.AccountList{Data: items, Total: total}, nil
}

func (s *AccountService) Create(ctx context.Context, acct *types.Account) error {
	return s.accounts.Create(ctx, acct)
}

// Update patches one account by id and returns the stored state.
func (s *AccountService) Update(ctx context.Context, id int64, patch map[string]any) (types.Account, error) {
	res, err := s.accounts.Update(ctx, store.ByID{ID: id}, patch, store.ReturningObjects)
	if err != nil {
		return types.Account{}, err
	}
	acct := res.Objects[0]
	projectStatus(&acct, time.Now().UTC())
	return acct, nil
}

// BulkUpdate patches every account matching the filter and returns how many
// rows changed.
func (s *AccountService) BulkUpdate(ctx context.Context, f *filter.Filter, patch map[string]any) (int, error) {
	res, err := s.accounts.Update(ctx, store.ByFilter{Filter: f}, patch, store.ReturningCount)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (s *AccountService) Delete(ctx context.Context, id int64) error {
	return s.accounts.Delete(ctx, id)
}

// Lease claims one eligible account for the owner. ErrNoneAvailable passes
// through untouched; an empty pool is a normal outcome.
func (s *AccountService) Lease(ctx context.Context, req store.LeaseRequest) (types.Account, error) {
	acct, err := s.accounts.Lease(ctx, req)
	if err != nil {
		return types.Account{}, err
	}
	s.events.publish(ctx, EventAccountLeased, acct)
	return acct, nil
}

// Release returns a held account to the pool (or bans it) and records how
// many messages the holder sent. Both writes commit together.
func (s *AccountService) Release(ctx context.Context, id int64, to types.AccountStatus, sent int) (types.Account, error) {
	var acct types.Account
	err := store.Transact(ctx, s.db, func(tx *sql.Tx) error {
		as := s.accounts.WithTx(tx)
		if err := as.AddSent(ctx, id, sent); err != nil {
			return err
		}
		var err error
		acct, err = as.Release(ctx, id, to, time.Now().UTC())
		return err
	})
	if err != nil {
		return types.Account{}, err
	}

	eventType := EventAccountReleased
	if to == types.AccountBanned {
		eventType = EventAccountBanned
	}
	s.events.publish(ctx, eventType, acct)
	return acct, nil
}
