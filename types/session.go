package types

import "time"

// SessionStatus mirrors AccountStatus values for session rows.
type SessionStatus int16

const (
	SessionFinished SessionStatus = -1
	SessionCreated  SessionStatus = 0
	SessionActive   SessionStatus = 1
)

// Session is one messaging run performed with a leased account.
type Session struct {
	ID        int64         `json:"id"`
	AccountID int64         `json:"account_id"`
	ExtID     string        `json:"ext_id"`
	Status    SessionStatus `json:"status"`
	MsgCount  int           `json:"msg_count"`
	Info1     *string       `json:"info_1,omitempty"`
	Info2     *string       `json:"info_2,omitempty"`
	Info3     *string       `json:"info_3,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// SessionList is the admin listing payload for sessions.
type SessionList struct {
	Data  []Session `json:"data"`
	Total int       `json:"total"`
}
