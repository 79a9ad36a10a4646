package services

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/accountpool/apiserver/internal/storage"
	"github.com/accountpool/apiserver/internal/store"
	"github.com/accountpool/apiserver/types"
)

// ErrArchivesDisabled reports that no storage backend is configured.
var ErrArchivesDisabled = errors.New("archive storage is not configured")

// ArchiveService imports accounts from uploaded archives and serves them
// back. The archive is stored under the account's uuid, so the object key
// survives renumbering.
type ArchiveService struct {
	backend  storage.ObjectStorage
	accounts *store.AccountStore
	log      *zap.Logger
}

func NewArchiveService(backend storage.ObjectStorage, accounts *store.AccountStore, log *zap.Logger) *ArchiveService {
	return &ArchiveService{backend: backend, accounts: accounts, log: log}
}

// Enabled reports whether a storage backend is configured.
func (s *ArchiveService) Enabled() bool {
	return s.backend != nil
}

// Import creates the account and stores its archive under one key. The
// account row is written first; a failed upload leaves the row without a
// file name so the import can be retried.
func (s *ArchiveService) Import(ctx context.Context, acct *types.Account, r io.Reader, size int64) error {
	if s.backend == nil {
		return ErrArchivesDisabled
	}

	acct.FileName = nil
	if err := s.accounts.Create(ctx, acct); err != nil {
		return err
	}

	key := storage.ArchiveKey(acct.UUID)
	if err := s.backend.Put(ctx, key, r, size, storage.ArchiveContentType); err != nil {
		s.log.Error("store account archive",
			zap.Int64("account_id", acct.ID),
			zap.String("key", key),
			zap.Error(err),
		)
		return err
	}

	updated, err := s.accounts.Update(ctx, store.ByID{ID: acct.ID},
		map[string]any{"file_name": key}, store.ReturningObjects)
	if err != nil {
		return err
	}
	*acct = updated.Objects[0]
	return nil
}

// Remove deletes the stored archive for an account whose row is going
// away. Failures are logged and never abort the caller.
func (s *ArchiveService) Remove(ctx context.Context, acct *types.Account) {
	if s.backend == nil || acct.FileName == nil || *acct.FileName == "" {
		return
	}
	if err := s.backend.Delete(ctx, *acct.FileName); err != nil {
		s.log.Warn("delete account archive",
			zap.Int64("account_id", acct.ID),
			zap.String("key", *acct.FileName),
			zap.Error(err),
		)
	}
}

// Open streams the stored archive for an account. ErrNotFound reports an
// account without an archive.
func (s *ArchiveService) Open(ctx context.Context, accountID int64) (io.ReadCloser, error) {
	if s.backend == nil {
		return nil, ErrArchivesDisabled
	}

	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.FileName == nil || *acct.FileName == "" {
		return nil, store.ErrNotFound
	}
	return s.backend.Get(ctx, *acct.FileName)
}
