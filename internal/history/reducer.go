package history

import (
	"context"

	"concierge-agent/internal/domain"
)

// Reducer shortens a message list, typically to fit a downstream context
// window. Implementations must be pure with respect to storage: the provider
// owns every storage side effect that follows from a shortened result. A
// reducer returning a list of equal or greater length causes no storage
// mutation at all.
type Reducer interface {
	Reduce(ctx context.Context, msgs []domain.ChatMessage) ([]domain.ChatMessage, error)
}

// TailReducer keeps the newest Keep messages and drops the rest. A Keep of
// zero or less keeps everything.
type TailReducer struct {
	Keep int
}

func (r TailReducer) Reduce(_ context.Context, msgs []domain.ChatMessage) ([]domain.ChatMessage, error) {
	if r.Keep <= 0 || len(msgs) <= r.Keep {
		return msgs, nil
	}
	return msgs[len(msgs)-r.Keep:], nil
}
