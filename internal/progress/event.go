package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StageFetchDone  Stage = "FETCH_DONE"
	StageRecord     Stage = "RECORD"
	StageCheckpoint Stage = "CHECKPOINT"
)

// Event captures a single progress observation.
type Event struct {
	// RunID identifies the crawl run.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Kind is the work item kind ("listing" or "detail") for fetch events.
	Kind string
	URL  string
	// Outcome is the classified fetch outcome (ok, rate_limited, blocked, ...).
	Outcome string
	Status  int
	// CreativeType is set on RECORD events.
	CreativeType string
	Bytes        int64
	Dur          time.Duration
	// Failed marks a RECORD that carries an extraction error.
	Failed bool
	// Checkpoint is set on CHECKPOINT events.
	Checkpoint *crawler.Checkpoint
	Note       string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageFetchDone:
		if e.Kind == "" {
			return errors.New("fetch done requires kind")
		}
		if e.Outcome == "" {
			return errors.New("fetch done requires outcome")
		}
	case StageRecord:
		if e.CreativeType == "" {
			return errors.New("record requires creative type")
		}
	case StageCheckpoint:
		if e.Checkpoint == nil {
			return errors.New("checkpoint event requires checkpoint")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
