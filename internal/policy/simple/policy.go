// Package simple implements the default outcome policy: what the worker does
// with a work item after its fetch has been classified.
package simple

import (
	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
)

// DefaultMaxAttempts bounds retries of an item that keeps hitting blocks.
const DefaultMaxAttempts = 5

// Action is the primary reaction to an outcome.
type Action int

// Actions.
const (
	// ActionProcess hands the response to the kind's handler.
	ActionProcess Action = iota
	// ActionBackoff signals the governor, waits out the delay, and requeues.
	ActionBackoff
	// ActionRetire retires the acting identity.
	ActionRetire
	// ActionDrop abandons the item.
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionProcess:
		return "process"
	case ActionBackoff:
		return "backoff"
	case ActionRetire:
		return "retire"
	case ActionDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// Decision pairs an Action with whether the item goes back to the frontier.
type Decision struct {
	Action  Action
	Requeue bool
	Reason  string
}

// Policy maps outcomes to decisions.
type Policy struct {
	maxAttempts int
}

// New creates a Policy; non-positive maxAttempts uses DefaultMaxAttempts.
func New(maxAttempts int) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Policy{maxAttempts: maxAttempts}
}

// MaxAttempts reports the Blocked retry ceiling.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Decide classifies what to do with item after outcome. Rate limits are
// always retried; blocks retire the identity and retry until the item has
// used its attempts; everything else that failed is dropped.
func (p *Policy) Decide(item crawler.WorkItem, outcome crawler.Outcome) Decision {
	switch outcome.Kind {
	case crawler.ErrorKindNone:
		return Decision{Action: ActionProcess}
	case crawler.ErrorKindRateLimited:
		return Decision{Action: ActionBackoff, Requeue: true, Reason: outcome.Kind.String()}
	case crawler.ErrorKindBlocked:
		if item.Attempt+1 >= p.maxAttempts {
			return Decision{Action: ActionRetire, Reason: "attempts exhausted"}
		}
		return Decision{Action: ActionRetire, Requeue: true, Reason: outcome.Kind.String()}
	default:
		return Decision{Action: ActionDrop, Reason: outcome.Kind.String()}
	}
}
