package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/accountpool/apiserver/internal/filter"
	"github.com/accountpool/apiserver/types"
)

// DeviceSchema declares the filterable surface of the devices table.
var DeviceSchema = &filter.Schema{
	Fields: map[string]filter.Field{
		"id":         {Kind: filter.KindInt, Ops: []string{"neq", "in"}},
		"user_id":    {Kind: filter.KindInt, Ops: []string{"neq", "in"}},
		"device_key": {Kind: filter.KindString, Ops: []string{"neq", "in", "ilike"}},
		"account_id": {Kind: filter.KindInt, Ops: []string{"neq", "in", "isnull"}},
		"name":       {Kind: filter.KindString, Ops: []string{"ilike", "isnull"}},
		"created_at": {Kind: filter.KindTime, Ops: []string{"gt", "gte", "lt", "lte"}},
		"updated_at": {Kind: filter.KindTime, Ops: []string{"gt", "gte", "lt", "lte"}},
	},
	OrderingField: filter.DefaultOrderingField,
	SearchField:   "search",
	SearchColumns: []string{"device_key", "name"},
}

var deviceMapping = Mapping[types.Device]{
	Table: "devices",
	Columns: []string{
		"user_id", "device_key", "account_id", "name", "created_at", "updated_at",
	},
	Schema: DeviceSchema,
	Values: func(d *types.Device) []any {
		return []any{d.UserID, d.DeviceKey, d.AccountID, d.Name, d.CreatedAt, d.UpdatedAt}
	},
	Scan: func(row Scanner, d *types.Device) error {
		return row.Scan(&d.ID, &d.UserID, &d.DeviceKey, &d.AccountID, &d.Name,
			&d.CreatedAt, &d.UpdatedAt)
	},
	ID:    func(d *types.Device) int64 { return d.ID },
	SetID: func(d *types.Device, id int64) { d.ID = id },
}

// DeviceStore handles persistence for worker devices.
type DeviceStore struct {
	*Repository[types.Device]
}

func NewDeviceStore(db DBTX, log *zap.Logger) *DeviceStore {
	return &DeviceStore{Repository: NewRepository(db, deviceMapping, log)}
}

// WithTx returns a copy of the store bound to the given transaction.
func (s *DeviceStore) WithTx(tx *sql.Tx) *DeviceStore {
	return &DeviceStore{Repository: s.Repository.WithTx(tx)}
}

// Create inserts a new device, stamping audit times when unset.
func (s *DeviceStore) Create(ctx context.Context, d *types.Device) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}
	return s.Repository.Create(ctx, d)
}

// GetByKey returns a user's device by its device key.
func (s *DeviceStore) GetByKey(ctx context.Context, userID int64, key string) (types.Device, error) {
	return s.GetBy(ctx, map[string]any{"user_id": userID, "device_key": key})
}

// LockByKey loads a user's device under an exclusive row lock. Must run
// inside a transaction.
func (s *DeviceStore) LockByKey(ctx context.Context, userID int64, key string) (types.Device, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM devices WHERE user_id = $1 AND device_key = $2 FOR UPDATE",
		deviceMapping.selectColumns())

	var d types.Device
	err := deviceMapping.Scan(s.db.QueryRowContext(ctx, query, userID, key), &d)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Device{}, ErrNotFound
		}
		return types.Device{}, s.fail("lock_by_key", err)
	}
	return d, nil
}

// SetAccount links or, with nil, unlinks the device's held account.
func (s *DeviceStore) SetAccount(ctx context.Context, deviceID int64, accountID *int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE devices SET account_id = $1, updated_at = $2 WHERE id = $3",
		accountID, time.Now().UTC(), deviceID)
	if err != nil {
		return s.fail("set_account", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return s.fail("set_account", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
