package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/accountpool/apiserver/internal/filter"
	"github.com/accountpool/apiserver/types"
)

// LeaseRequest describes one claim attempt.
type LeaseRequest struct {
	// OwnerID scopes the claim to one user's pool.
	OwnerID int64

	// Extra optionally narrows eligibility with caller-supplied conditions
	// built against AccountSchema.
	Extra *filter.Filter

	// Now is the claim instant; zero means time.Now in UTC.
	Now time.Time
}

// Lease atomically claims at most one eligible Available account and flips
// it to Active.
//
// Candidate selection and the status flip are a single statement: the inner
// select takes a row lock on exactly one candidate with SKIP LOCKED, so a
// concurrent attempt never blocks behind an attempt examining a different
// row and can never observe the same candidate. Eligibility (status, owner,
// cooldown window, extra conditions) is evaluated under that lock. The
// oldest-idle account wins: updated_at ascending with NULLs first, then id.
//
// ErrNoneAvailable reports that no eligible, unlocked candidate existed at
// scan time; retrying is the caller's decision.
func (s *AccountStore) Lease(ctx context.Context, req LeaseRequest) (types.Account, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	args := filter.NewArgs()
	set := "status = " + args.Add(types.AccountActive) +
		", updated_at = " + args.Add(now)

	where := []string{
		"status = " + args.Add(types.AccountAvailable),
		"user_id = " + args.Add(req.OwnerID),
		"(updated_at IS NULL OR cooldown IS NULL OR " + args.Add(now) +
			" > updated_at + cooldown * interval '1 minute')",
	}
	if req.Extra != nil {
		extra, err := req.Extra.Compile(args)
		if err != nil {
			return types.Account{}, err
		}
		if extra != "" {
			where = append(where, extra)
		}
	}

	query := fmt.Sprintf(
		"UPDATE accounts SET %s WHERE id = ("+
			"SELECT id FROM accounts WHERE %s "+
			"ORDER BY updated_at ASC NULLS FIRST, id ASC "+
			"LIMIT 1 FOR UPDATE SKIP LOCKED) RETURNING %s",
		set, strings.Join(where, " AND "), accountMapping.selectColumns())

	var acct types.Account
	err := accountMapping.Scan(s.db.QueryRowContext(ctx, query, args.Values()...), &acct)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNoneAvailable
		}
		return types.Account{}, s.fail("lease", err)
	}
	return acct, nil
}

// Release reverts a held account to Available, or removes it from the pool
// with Banned. The update always stamps updated_at so the cooldown window
// restarts from the release instant.
func (s *AccountStore) Release(ctx context.Context, id int64, to types.AccountStatus, now time.Time) (types.Account, error) {
	if to != types.AccountAvailable && to != types.AccountBanned {
		return types.Account{}, fmt.Errorf("release target must be available or banned, got %d", to)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	query := fmt.Sprintf(
		"UPDATE accounts SET status = $1, updated_at = $2 WHERE id = $3 RETURNING %s",
		accountMapping.selectColumns())

	var acct types.Account
	err := accountMapping.Scan(s.db.QueryRowContext(ctx, query, to, now, id), &acct)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, s.fail("release", err)
	}
	return acct, nil
}

// AddSent increments the account's sent counter alongside a release path.
func (s *AccountStore) AddSent(ctx context.Context, id int64, delta int) error {
	if delta == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET sent = COALESCE(sent, 0) + $1 WHERE id = $2", delta, id)
	if err != nil {
		return s.fail("add_sent", err)
	}
	return nil
}
