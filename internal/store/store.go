package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("document not found")
var ErrAlreadyExists = errors.New("document already exists")
var ErrUnavailable = errors.New("store unavailable")
var ErrInvalidUpdate = errors.New("invalid update")

// Document is a JSON-shaped value: maps, slices, strings, float64, bool, nil.
type Document map[string]any

// Sink receives pushes for one subscription. OnChange always gets the full
// current document. OnError with ErrNotFound ends the subscription.
type Sink interface {
	OnChange(doc Document)
	OnError(err error)
}

// SinkFuncs adapts two functions to a Sink.
type SinkFuncs struct {
	Change func(Document)
	Error  func(error)
}

func (s SinkFuncs) OnChange(doc Document) {
	if s.Change != nil {
		s.Change(doc)
	}
}

func (s SinkFuncs) OnError(err error) {
	if s.Error != nil {
		s.Error(err)
	}
}

// Store is a multi-reader, multi-writer document store with push
// subscriptions. Field merges are last-write-wins; each Update is applied
// atomically to one document.
type Store interface {
	// Create fails with ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, collection, id string, doc Document) error
	Get(ctx context.Context, collection, id string) (Document, error)
	Update(ctx context.Context, collection, id string, ops ...Op) error
	// Subscribe delivers the current document, then every later one.
	// Deliveries are at-least-once for the latest version; intermediate
	// versions may be skipped. The returned func detaches the sink.
	Subscribe(ctx context.Context, collection, id string, sink Sink) (unsubscribe func())
	// Delete is idempotent.
	Delete(ctx context.Context, collection, id string) error
}

// Key is the canonical "collection/id" form used by backends.
func Key(collection, id string) string { return collection + "/" + id }
