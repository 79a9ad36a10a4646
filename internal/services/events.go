package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/accountpool/apiserver/internal/mq"
	"github.com/accountpool/apiserver/types"
)

// Pool event types published to the broker.
const (
	EventAccountLeased   = "account.leased"
	EventAccountReleased = "account.released"
	EventAccountBanned   = "account.banned"
)

// PoolEvent announces a pool state transition for one account.
type PoolEvent struct {
	Type        string              `json:"type"`
	AccountID   int64               `json:"account_id"`
	AccountUUID uuid.UUID           `json:"account_uuid"`
	UserID      int64               `json:"user_id"`
	Status      types.AccountStatus `json:"status"`
	At          time.Time           `json:"at"`
}

// EventPublisher emits pool events on a best-effort basis. Publishing never
// fails the operation that triggered it; broker errors are logged and
// dropped. A nil backend disables publishing entirely.
type EventPublisher struct {
	backend mq.Backend
	channel string
	log     *zap.Logger
}

func NewEventPublisher(backend mq.Backend, channel string, log *zap.Logger) *EventPublisher {
	return &EventPublisher{backend: backend, channel: channel, log: log}
}

func (p *EventPublisher) publish(ctx context.Context, eventType string, acct types.Account) {
	if p == nil || p.backend == nil {
		return
	}

	event := PoolEvent{
		Type:        eventType,
		AccountID:   acct.ID,
		AccountUUID: acct.UUID,
		UserID:      acct.UserID,
		Status:      acct.Status,
		At:          time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error("marshal pool event", zap.Error(err))
		return
	}

	attrs := map[string]string{"type": eventType}
	if _, err := p.backend.Publish(ctx, p.channel, data, attrs); err != nil {
		p.log.Warn("publish pool event",
			zap.String("type", eventType),
			zap.Int64("account_id", acct.ID),
			zap.Error(err),
		)
	}
}
