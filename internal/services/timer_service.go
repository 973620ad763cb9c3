// internal/services/timer_service.go
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/chanvault/chanvault-backend/internal/config"
	"github.com/chanvault/chanvault-backend/internal/dealflow"
	"github.com/chanvault/chanvault-backend/internal/models"
)

// TimerService fires the ownership-hold expiry. Deals never flip on their
// own: a periodic sweep finds expired timers and submits the elapsed event
// through the same transition path as everything else.
type TimerService struct {
	db          *gorm.DB
	dealService *DealService
	interval    time.Duration
	nowFn       func() time.Time
}

func NewTimerService(db *gorm.DB, config *config.Config, dealService *DealService) *TimerService {
	return &TimerService{
		db:          db,
		dealService: dealService,
		interval:    time.Duration(config.Escrow.SweepInterval) * time.Second,
		nowFn:       time.Now,
	}
}

// SetNowFunc overrides the sweep clock for tests.
func (s *TimerService) SetNowFunc(fn func() time.Time) {
	s.nowFn = fn
	s.dealService.SetNowFunc(fn)
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *TimerService) Run(ctx context.Context) {
	logrus.WithField("interval", s.interval).Info("Timer sweep started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Timer sweep stopped")
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(); err != nil {
				logrus.WithError(err).Error("Timer sweep failed")
			} else if n > 0 {
				logrus.WithField("completed", n).Info("Timer sweep completed deals")
			}
		}
	}
}

// SweepOnce completes every deal whose hold timer has expired and returns how
// many transitions were applied.
func (s *TimerService) SweepOnce() (int, error) {
	now := s.nowFn()

	var dealIDs []uuid.UUID
	err := s.db.Model(&models.Deal{}).
		Where("agent_access_granted AND NOT timer_completed").
		Where("rights_timer_expires_at IS NOT NULL AND rights_timer_expires_at <= ?", now).
		Pluck("id", &dealIDs).Error
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, id := range dealIDs {
		_, changed, err := s.dealService.CompleteTimer(id)
		if err != nil {
			var invalid *dealflow.InvalidTransitionError
			if errors.As(err, &invalid) {
				// Another instance raced us past this deal's timer.
				continue
			}
			logrus.WithError(err).WithField("deal_id", id).Error("Timer sweep transition failed")
			continue
		}
		if changed {
			completed++
		}
	}

	return completed, nil
}
