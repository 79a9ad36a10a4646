package types

import (
	"time"

	"github.com/google/uuid"
)

// AccountStatus is the persisted pool state of an account.
type AccountStatus int16

const (
	AccountBanned    AccountStatus = -1
	AccountAvailable AccountStatus = 0
	AccountActive    AccountStatus = 1

	// AccountPaused is a read-time projection for accounts whose cooldown
	// window has not yet elapsed. It is never written to the database.
	AccountPaused AccountStatus = 2
)

// Account is a leasable messaging account tracked by the pool.
type Account struct {
	ID           int64         `json:"id"`
	UUID         uuid.UUID     `json:"uuid"`
	UserID       int64         `json:"user_id"`
	Number       string        `json:"number"`
	Type         int16         `json:"type"`
	Status       AccountStatus `json:"status"`
	SessionCount int           `json:"session_count"`
	Sent         int           `json:"sent"`
	MsgLimit     int           `json:"msg_limit"`
	Cooldown     *int          `json:"cooldown,omitempty"` // minutes
	FileName     *string       `json:"file_name,omitempty"`
	Tags         *string       `json:"tags,omitempty"` // comma-delimited set
	Info1        *string       `json:"info_1,omitempty"`
	Info2        *string       `json:"info_2,omitempty"`
	Info3        *string       `json:"info_3,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    *time.Time    `json:"updated_at,omitempty"`
}

// CooldownDeadline returns the instant the account becomes eligible again,
// or false when no cooldown applies.
func (a Account) CooldownDeadline() (time.Time, bool) {
	if a.Cooldown == nil || a.UpdatedAt == nil {
		return time.Time{}, false
	}
	return a.UpdatedAt.Add(time.Duration(*a.Cooldown) * time.Minute), true
}

// AccountList is the admin listing payload: one page plus the filtered total.
type AccountList struct {
	Data  []Account `json:"data"`
	Total int       `json:"total"`
}
