package scheduler

import (
	"context"
	"time"

	"github.com/meetpay/meetpay/internal/cache"
	"github.com/meetpay/meetpay/internal/clock"
	"github.com/meetpay/meetpay/internal/meeting"
	"github.com/meetpay/meetpay/internal/settlement"
	"go.uber.org/zap"
)

// Config controls the settlement sweep loop.
type Config struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	return c
}

// Sweeper periodically settles meetings that ended but were never paid.
// It is the scheduled trigger of the settlement workflow; operators can
// still trigger individual meetings through the admin endpoint.
type Sweeper struct {
	meetings   *meeting.Service
	settlement *settlement.Service
	clock      clock.Clock
	log        *zap.Logger
	cfg        Config

	// attempted suppresses re-settling a meeting within one suppression
	// window, so a meeting stuck in NEEDS_PAYMENT by a slow write is not
	// hammered every tick.
	attempted *cache.TTLCache[string, time.Time]
}

// NewSweeper builds the sweeper.
func NewSweeper(meetings *meeting.Service, settlementSvc *settlement.Service, clk clock.Clock, log *zap.Logger, cfg Config) *Sweeper {
	return &Sweeper{
		meetings:   meetings,
		settlement: settlementSvc,
		clock:      clk,
		log:        log.Named("sweeper"),
		cfg:        cfg.withDefaults(),
		attempted:  cache.NewTTLCache[string, time.Time](),
	}
}

// Run loops until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepOnce(ctx); n > 0 {
				s.log.Info("sweep finished", zap.Int("settled_attempts", n))
			}
		}
	}
}

// SweepOnce settles up to one batch of due meetings and reports how many
// attempts it made.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	due, err := s.meetings.FindByState(ctx, meeting.StateNeedsPayment)
	if err != nil {
		s.log.Error("sweep query failed", zap.Error(err))
		return 0
	}

	now := s.clock.Now().Unix()
	attempts := 0
	for _, m := range due {
		if attempts >= s.cfg.BatchSize {
			break
		}
		if m.EndTime() > now {
			continue
		}
		meetingID := m.ID.String()
		if _, recently := s.attempted.Get(meetingID); recently {
			continue
		}
		s.attempted.Set(meetingID, s.clock.Now(), s.suppressionWindow())

		attempts++
		result, err := s.settlement.Settle(ctx, meetingID)
		if err != nil {
			s.log.Warn("sweep settle failed", zap.String("meeting_id", meetingID), zap.Error(err))
			continue
		}
		s.log.Info("sweep settle finished",
			zap.String("meeting_id", meetingID),
			zap.String("outcome", string(result.Outcome)),
		)
	}
	return attempts
}

func (s *Sweeper) suppressionWindow() time.Duration {
	return 5 * s.cfg.Interval
}
