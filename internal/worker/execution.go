package worker

import (
	"log/slog"
	"time"
)

// Outcome is the terminal state of one delivery attempt.
type Outcome string

// Delivery attempt outcomes.
const (
	OutcomeOK          Outcome = "ok"
	OutcomeRetried     Outcome = "retried"
	OutcomeDeadLetter  Outcome = "dead_lettered"
	OutcomeHardTimeout Outcome = "hard_timeout"
	OutcomeExpired     Outcome = "expired"
)

// executionRecord tracks one attempt from claim to outcome. It exists for
// the duration of the attempt and is discarded after being logged.
type executionRecord struct {
	taskName  string
	slot      string
	startedAt time.Time
	softLimit time.Duration
	hardLimit time.Duration
	outcome   Outcome
}

func (r *executionRecord) log(logger *slog.Logger) {
	logger.Info("execution finished",
		"task", r.taskName,
		"slot", r.slot,
		"outcome", string(r.outcome),
		"elapsed", time.Since(r.startedAt),
		"soft_limit", r.softLimit,
		"hard_limit", r.hardLimit)
}
