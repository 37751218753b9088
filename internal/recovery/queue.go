package recovery

import "time"

// QueuedMessage is one broadcast held for a disconnected player.
type QueuedMessage struct {
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload"`
	Sequence  uint64         `json:"sequence"`
	Critical  bool           `json:"is_critical"`
	Timestamp time.Time      `json:"timestamp"`
}

// queue is a bounded FIFO that prefers keeping critical entries when it
// overflows: oldest non-critical messages go first, criticals are never
// trimmed.
type queue struct {
	max   int
	items []QueuedMessage
}

func (q *queue) push(m QueuedMessage) {
	q.items = append(q.items, m)
	if len(q.items) <= q.max {
		return
	}

	critical := 0
	for _, it := range q.items {
		if it.Critical {
			critical++
		}
	}
	keepNonCritical := q.max - critical
	if keepNonCritical < 0 {
		keepNonCritical = 0
	}
	drop := (len(q.items) - critical) - keepNonCritical
	if drop <= 0 {
		return
	}

	kept := make([]QueuedMessage, 0, len(q.items)-drop)
	for _, it := range q.items {
		if !it.Critical && drop > 0 {
			drop--
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
}

// drain hands back everything in enqueue order and empties the queue, so
// a drained message can never be delivered twice.
func (q *queue) drain() []QueuedMessage {
	items := q.items
	q.items = nil
	return items
}

func (q *queue) len() int { return len(q.items) }
