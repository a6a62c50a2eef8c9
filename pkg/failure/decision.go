package failure

import "time"

// Action is what the engine tells the caller to do about a failed task.
type Action string

const (
	ActionRetryNow         Action = "retry_now"
	ActionRetryWithBackoff Action = "retry_with_backoff"
	ActionEscalate         Action = "escalate"
	ActionAbandon          Action = "abandon"
)

// Decision is the outcome of evaluating one failure.
type Decision struct {
	Action Action
	Delay  time.Duration // only meaningful for ActionRetryWithBackoff
}

// escalateThreshold is the consecutive-failure count at which any kind of
// failure gets escalated to the inspection agent, regardless of what it
// otherwise would have done.
const escalateThreshold = 3

// immediateRetryLimit caps how many times a syntax or test failure is
// retried without backoff before falling through to the general escalate
// check above.
const immediateRetryLimit = 2

var backoffCap = map[Kind]time.Duration{
	KindTransientNetwork: 30 * time.Second,
	KindRateLimit:        5 * time.Minute,
}

const defaultBackoffCap = 60 * time.Second
const backoffBase = 2 * time.Second

// Decide applies the failure decision rule to one newly recorded failure.
// consecutiveFailures is the task's counter *after* this failure was
// counted. stillEscalated is true when the task was already escalated
// and that escalation hasn't been cleared by a resolved inspection call
// yet, in that case the new failure is abandoned rather than escalated
// a second time.
func Decide(kind Kind, consecutiveFailures int, stillEscalated bool) Decision {
	if stillEscalated {
		return Decision{Action: ActionAbandon}
	}

	if consecutiveFailures >= escalateThreshold {
		return Decision{Action: ActionEscalate}
	}

	switch kind {
	case KindSyntax, KindTestFailure:
		if consecutiveFailures <= immediateRetryLimit {
			return Decision{Action: ActionRetryNow}
		}
		return Decision{Action: ActionEscalate}
	default:
		max := defaultBackoffCap
		if c, ok := backoffCap[kind]; ok {
			max = c
		}
		delay := backoffBase
		for i := 1; i < consecutiveFailures; i++ {
			delay *= 2
			if delay >= max {
				delay = max
				break
			}
		}
		return Decision{Action: ActionRetryWithBackoff, Delay: delay}
	}
}
