// Package jobs runs periodic maintenance.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const purgeTimeout = time.Minute

// OTPPurger deletes spent one-time codes older than retention.
type OTPPurger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

type Config struct {
	// OTPPurgeSpec is a six-field cron expression (seconds first).
	OTPPurgeSpec      string
	OTPPurgeRetention time.Duration
}

type Scheduler struct {
	cron *cron.Cron
	otps OTPPurger
	cfg  Config
	log  zerolog.Logger
}

func NewScheduler(otps OTPPurger, cfg Config, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron: c,
		otps: otps,
		cfg:  cfg,
		log:  log.With().Str("component", "jobs").Logger(),
	}
}

func (s *Scheduler) Start() error {
	if s.otps == nil || s.cfg.OTPPurgeSpec == "" {
		return nil
	}

	if _, err := s.cron.AddFunc(s.cfg.OTPPurgeSpec, s.purgeOTPs); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("spec", s.cfg.OTPPurgeSpec).Dur("retention", s.cfg.OTPPurgeRetention).Msg("scheduler started")
	return nil
}

// Stop halts the schedule and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) purgeOTPs() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	n, err := s.otps.Purge(ctx, s.cfg.OTPPurgeRetention)
	if err != nil {
		s.log.Error().Err(err).Msg("otp purge failed")
		return
	}
	s.log.Debug().Int64("deleted", n).Msg("otp purge done")
}
