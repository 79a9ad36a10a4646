package jobs

import (
	"context"
	"time"

	"github.com/accountpool/apiserver/config"
	"github.com/accountpool/apiserver/internal/services"
)

// CloseStaleSessions builds the sweep that finishes idle sessions and
// returns their accounts to the pool.
func CloseStaleSessions(sessions *services.SessionService, cfg config.JobsConfig) Job {
	staleAfter := time.Duration(cfg.StaleAfterHours) * time.Hour
	return Job{
		Name: "close_stale_sessions",
		Spec: cfg.CloseSessionsSpec,
		Run: func(ctx context.Context) error {
			_, _, err := sessions.CloseStale(ctx, staleAfter, cfg.ReleaseBatchSize)
			return err
		},
	}
}
