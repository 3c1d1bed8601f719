package engine

import "fmt"

// Quota counts the events each flow handles between idle points.
//
// A handler that keeps dispatching itself, directly or through a chain of
// events, stays in one flow, so its flow runs out of budget and the rest of
// the loop is dropped. The engine calls Forget whenever its queue drains.
// Not safe for concurrent use; only the engine's writer touches it.
type Quota struct {
	limit  int
	counts map[string]int
}

// NewQuota creates a quota of limit events per flow. A limit <= 0 disables it.
func NewQuota(limit int) *Quota {
	return &Quota{limit: limit, counts: make(map[string]int)}
}

// Charge counts eventID against flowToken.
// Returns *QuotaExceededError once the flow has used its whole budget. A
// rejected event is still counted, so Used keeps growing while a loop is
// being cut off.
func (q *Quota) Charge(flowToken, eventID string) error {
	if q.limit <= 0 {
		return nil
	}
	q.counts[flowToken]++
	if used := q.counts[flowToken]; used > q.limit {
		return &QuotaExceededError{
			FlowToken: flowToken,
			EventID:   eventID,
			Used:      used,
			Limit:     q.limit,
		}
	}
	return nil
}

// Used returns how many events flowToken has been charged since the last
// Forget.
func (q *Quota) Used(flowToken string) int {
	return q.counts[flowToken]
}

// Limit returns the per-flow budget.
func (q *Quota) Limit() int {
	return q.limit
}

// Forget drops the counts of every flow.
func (q *Quota) Forget() {
	if len(q.counts) > 0 {
		q.counts = make(map[string]int)
	}
}

// QuotaExceededError reports an event dropped because its flow ran out of
// budget.
type QuotaExceededError struct {
	FlowToken string
	EventID   string
	Used      int
	Limit     int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("flow %s exceeded max steps at event %q: %d > %d",
		e.FlowToken, e.EventID, e.Used, e.Limit)
}
