package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/accountpool/apiserver/types"
)

func TestProjectStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 30 // minutes

	tests := []struct {
		name      string
		status    types.AccountStatus
		cooldown  *int
		updatedAt *time.Time
		want      types.AccountStatus
	}{
		{
			name:      "cooling down shows paused",
			status:    types.AccountAvailable,
			cooldown:  &cooldown,
			updatedAt: timePtr(now.Add(-10 * time.Minute)),
			want:      types.AccountPaused,
		},
		{
			name:      "deadline instant still paused",
			status:    types.AccountAvailable,
			cooldown:  &cooldown,
			updatedAt: timePtr(now.Add(-30 * time.Minute)),
			want:      types.AccountPaused,
		},
		{
			name:      "cooldown elapsed shows available",
			status:    types.AccountAvailable,
			cooldown:  &cooldown,
			updatedAt: timePtr(now.Add(-31 * time.Minute)),
			want:      types.AccountAvailable,
		},
		{
			name:     "never used shows available",
			status:   types.AccountAvailable,
			cooldown: &cooldown,
			want:     types.AccountAvailable,
		},
		{
			name:      "no cooldown shows available",
			status:    types.AccountAvailable,
			updatedAt: timePtr(now.Add(-time.Minute)),
			want:      types.AccountAvailable,
		},
		{
			name:      "active in window shows paused",
			status:    types.AccountActive,
			cooldown:  &cooldown,
			updatedAt: timePtr(now.Add(-10 * time.Minute)),
			want:      types.AccountPaused,
		},
		{
			name:      "active past window untouched",
			status:    types.AccountActive,
			cooldown:  &cooldown,
			updatedAt: timePtr(now.Add(-31 * time.Minute)),
			want:      types.AccountActive,
		},
		{
			name:      "banned untouched",
			status:    types.AccountBanned,
			cooldown:  &cooldown,
			updatedAt: timePtr(now.Add(-10 * time.Minute)),
			want:      types.AccountBanned,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acct := types.Account{
				Status:    tt.status,
				Cooldown:  tt.cooldown,
				UpdatedAt: tt.updatedAt,
			}
			projectStatus(&acct, now)
			assert.Equal(t, tt.want, acct.Status)
		})
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
