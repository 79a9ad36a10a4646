package types

import "time"

// Device is a worker device owned by a user. A device holds at most one
// leased account at a time.
type Device struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	DeviceKey string    `json:"device"`
	AccountID *int64    `json:"account_id,omitempty"`
	Name      *string   `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeviceList is the admin listing payload for devices.
type DeviceList struct {
	Data  []Device `json:"data"`
	Total int      `json:"total"`
}
