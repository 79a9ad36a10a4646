package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/accountpool/apiserver/internal/filter"
	"github.com/accountpool/apiserver/internal/store"
	"github.com/accountpool/apiserver/types"
)

// DeviceService manages worker devices and their account links. Each device
// holds at most one leased account; the link workflows run under a row lock
// on the device so concurrent calls from the same device serialize.
type DeviceService struct {
	db       *sql.DB
	devices  *store.DeviceStore
	accounts *store.AccountStore
	events   *EventPublisher
	log      *zap.Logger
}

func NewDeviceService(db *sql.DB, devices *store.DeviceStore, accounts *store.AccountStore, events *EventPublisher, log *zap.Logger) *DeviceService {
	return &DeviceService{db: db, devices: devices, accounts: accounts, events: events, log: log}
}

// Link hands the device an account. An unknown device key is registered on
// first contact. When the device already holds an active account, that
// account is returned again; otherwise one is leased from the owner's pool
// and bound to the device. ErrNoneAvailable passes through untouched.
func (s *DeviceService) Link(ctx context.Context, userID int64, deviceKey string, extra *filter.Filter) (types.Account, error) {
	var acct types.Account
	var leased bool

	err := store.Transact(ctx, s.db, func(tx *sql.Tx) error {
		ds := s.devices.WithTx(tx)
		as := s.accounts.WithTx(tx)

		device, err := ds.LockByKey(ctx, userID, deviceKey)
		if errors.Is(err, store.ErrNotFound) {
			device = types.Device{UserID: userID, DeviceKey: deviceKey}
			err = ds.Create(ctx, &device)
		}
		if err != nil {
			return err
		}

		if device.AccountID != nil {
			held, err := as.Get(ctx, *device.AccountID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if err == nil && held.Status == types.AccountActive {
				acct = held
				return nil
			}
			// Stale link: the held account was released or removed
			// elsewhere. Drop it and lease a fresh one.
			if err := ds.SetAccount(ctx, device.ID, nil); err != nil {
				return err
			}
		}

		acct, err = as.Lease(ctx, store.LeaseRequest{OwnerID: userID, Extra: extra})
		if err != nil {
			return err
		}
		leased = true
		return ds.SetAccount(ctx, device.ID, &acct.ID)
	})
	if err != nil {
		return types.Account{}, err
	}

	if leased {
		s.events.publish(ctx, EventAccountLeased, acct)
	}
	return acct, nil
}

// Finish releases the device's held account back to the pool, crediting the
// messages it sent. ErrNotFound reports a device with nothing to release.
func (s *DeviceService) Finish(ctx context.Context, userID int64, deviceKey string, sent int) (types.Account, error) {
	return s.unlink(ctx, userID, deviceKey, types.AccountAvailable, sent)
}

// Ban removes the device's held account from the pool permanently.
func (s *DeviceService) Ban(ctx context.Context, userID int64, deviceKey string, sent int) (types.Account, error) {
	return s.unlink(ctx, userID, deviceKey, types.AccountBanned, sent)
}

func (s *DeviceService) unlink(ctx context.Context, userID int64, deviceKey string, to types.AccountStatus, sent int) (types.Account, error) {
	var acct types.Account

	err := store.Transact(ctx, s.db, func(tx *sql.Tx) error {
		ds := s.devices.WithTx(tx)
		as := s.accounts.WithTx(tx)

		device, err := ds.LockByKey(ctx, userID, deviceKey)
		if err != nil {
			return err
		}
		if device.AccountID == nil {
			return store.ErrNotFound
		}

		if err := as.AddSent(ctx, *device.AccountID, sent); err != nil {
			return err
		}
		acct, err = as.Release(ctx, *device.AccountID, to, time.Now().UTC())
		if err != nil {
			return err
		}
		return ds.SetAccount(ctx, device.ID, nil)
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

func (s *DeviceService) Get(ctx context.Context, id int64) (types.Device, error) {
	return s.devices.Get(ctx, id)
}

// List returns one page of devices plus the filtered total.
func (s *DeviceService) List(ctx context.Context, f *filter.Filter, offset, limit int) (types.DeviceList, error) {
	if f == nil {
		f = filter.New(store.DeviceSchema)
	}
	if !f.HasOrdering() {
		if err := f.OrderedBy(defaultOrdering); err != nil {
			return types.DeviceList{}, err
		}
	}

	items, err := s.devices.List(ctx, f, offset, limit)
	if err != nil {
		return types.DeviceList{}, err
	}
	total, err := s.devices.Count(ctx, f)
	if err != nil {
		return types.DeviceList{}, err
	}
	return types.DeviceList{Data: items, Total: total}, nil
}

func (s *DeviceService) Create(ctx context.Context, d *types.Device) error {
	return s.devices.Create(ctx, d)
}

// Update patches one device by id and returns the stored state.
func (s *DeviceService) Update(ctx context.Context, id int64, patch map[string]any) (types.Device, error) {
	res, err := s.devices.Update(ctx, store.ByID{ID: id}, patch, store.ReturningObjects)
	if err != nil {
		return types.Device{}, err
	}
	return res.Objects[0], nil
}

func (s *DeviceService) Delete(ctx context.Context, id int64) error {
	return s.devices.Delete(ctx, id)
}
