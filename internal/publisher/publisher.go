package publisher

import (
	"context"

	"autopost/internal/store"
)

// Publisher performs the actual network call that posts a content item
// to its destination. Implementations own their timeouts; a timeout is
// reported as an ordinary error and treated like any other publish
// failure.
type Publisher interface {
	Publish(ctx context.Context, item *store.ContentItem) error
}

// Func adapts a function to the Publisher interface.
type Func func(ctx context.Context, item *store.ContentItem) error

func (f Func) Publish(ctx context.Context, item *store.ContentItem) error {
	return f(ctx, item)
}
