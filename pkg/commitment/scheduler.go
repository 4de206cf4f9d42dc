package commitment

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// SetSource supplies the commitment sets eligible for periodic retry.
// Returned sets belong to live agents; the scheduler never retains them
// between runs.
type SetSource func() []*Set

// RetryScheduler periodically re-runs failed commitments on a cron
// schedule. It is an optional background supplement to the feedback
// loop: agents that sit idle with failed commitments get their checks
// re-evaluated without a new turn.
type RetryScheduler struct {
	verifier *Verifier
	source   SetSource
	spec     string
	cron     *cron.Cron
	entryID  cron.EntryID
	mu       sync.Mutex
	running  bool
}

// NewRetryScheduler creates a scheduler with a cron spec such as
// "@every 5m" or a standard five-field expression.
func NewRetryScheduler(verifier *Verifier, source SetSource, spec string) (*RetryScheduler, error) {
	if verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	if source == nil {
		return nil, fmt.Errorf("set source is required")
	}
	if spec == "" {
		return nil, fmt.Errorf("cron spec is required")
	}

	return &RetryScheduler{
		verifier: verifier,
		source:   source,
		spec:     spec,
		cron:     cron.New(),
	}, nil
}

// Start begins scheduling retries
func (s *RetryScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("retry scheduler already running")
	}

	entryID, err := s.cron.AddFunc(s.spec, s.runOnce)
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", s.spec, err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.running = true

	log.Info().Str("spec", s.spec).Msg("Commitment retry scheduler started")
	return nil
}

// Stop halts scheduling and waits for an in-flight run to finish
func (s *RetryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false

	log.Info().Msg("Commitment retry scheduler stopped")
}

// runOnce retries failed commitments across every supplied set
func (s *RetryScheduler) runOnce() {
	ctx := context.Background()

	for _, set := range s.source() {
		failed := len(set.ByStatus(StatusFailed))
		if failed == 0 {
			continue
		}

		passed, err := s.verifier.RetryFailed(ctx, set)
		if err != nil {
			log.Warn().Err(err).Msg("Scheduled commitment retry reported an error")
			continue
		}

		log.Info().
			Int("retried", failed).
			Bool("all_passed", passed).
			Msg("Scheduled commitment retry completed")
	}
}
