// Package memstore is an in-process document store. A hub goroutine owns
// the key space and every document runs as its own actor goroutine.
package memstore

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/store"
)

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

type Store struct {
	hub   *Hub
	now   func() time.Time
	log   *zap.Logger
	subID atomic.Uint64
}

var _ store.Store = (*Store)(nil)

func New(ctx context.Context, opts ...Option) *Store {
	s := &Store{now: time.Now, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("memstore")
	s.hub = NewHub(ctx, func() time.Time { return s.now() })
	return s
}

// Close stops the hub and every document actor.
func (s *Store) Close() {
	select {
	case s.hub.inbox <- ShutdownHub{}:
	default:
		s.hub.cancel()
	}
}

func (s *Store) Create(ctx context.Context, collection, id string, doc store.Document) error {
	initial, err := store.Clone(doc)
	if err != nil {
		return err
	}
	store.ResolveServerValues(map[string]any(initial), s.now())

	reply := make(chan *docActor, 1)
	if err := s.hub.send(ctx, CreateDoc{Key: store.Key(collection, id), Doc: initial, Reply: reply}); err != nil {
		return err
	}
	a, err := await(ctx, s.hub.ctx, reply, store.ErrUnavailable)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("%s: %w", store.Key(collection, id), store.ErrAlreadyExists)
	}
	s.log.Debug("document created", zap.String("key", store.Key(collection, id)))
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	a, err := s.lookup(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	reply := make(chan Snapshot, 1)
	if err := a.send(ctx, Read{Reply: reply}); err != nil {
		return nil, err
	}
	snap, err := await(ctx, a.ctx, reply, store.ErrNotFound)
	if err != nil {
		return nil, err
	}
	return snap.Doc, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, ops ...store.Op) error {
	a, err := s.lookup(ctx, collection, id)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := a.send(ctx, Write{Ops: ops, Reply: reply}); err != nil {
		return err
	}
	werr, err := await(ctx, a.ctx, reply, store.ErrNotFound)
	if err != nil {
		return err
	}
	return werr
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	reply := make(chan *docActor, 1)
	if err := s.hub.send(ctx, DetachDoc{Key: store.Key(collection, id), Reply: reply}); err != nil {
		return err
	}
	a, err := await(ctx, s.hub.ctx, reply, store.ErrUnavailable)
	if err != nil || a == nil {
		return err
	}
	done := make(chan struct{})
	if err := a.send(ctx, Remove{Reply: done}); err != nil {
		return nil // already gone
	}
	select {
	case <-done:
	case <-a.ctx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Debug("document deleted", zap.String("key", store.Key(collection, id)))
	return nil
}

func (s *Store) Subscribe(ctx context.Context, collection, id string, sink store.Sink) func() {
	subCtx, cancel := context.WithCancel(ctx)

	a, err := s.lookup(subCtx, collection, id)
	if err != nil {
		cancel()
		go sink.OnError(err)
		return func() {}
	}

	subID := strconv.FormatUint(s.subID.Add(1), 10)
	out := make(chan Snapshot, 1)
	if err := a.send(subCtx, Watch{SubID: subID, Outbox: out}); err != nil {
		cancel()
		go sink.OnError(err)
		return func() {}
	}

	go s.pump(subCtx, a, subID, out, sink, store.Key(collection, id))

	return cancel
}

// pump forwards snapshots from out to sink until the subscription or the
// actor ends. A Watch can land in the inbox of an actor that already exited,
// so the actor's own context is watched as well as out.
func (s *Store) pump(ctx context.Context, a *docActor, subID string, out chan Snapshot, sink store.Sink, key string) {
	defer func() {
		// best effort; the actor may already be gone
		select {
		case a.inbox <- Unwatch{SubID: subID}:
		case <-a.ctx.Done():
		}
	}()
	gone := func() {
		if ctx.Err() != nil {
			return
		}
		if a.removed.Load() {
			sink.OnError(fmt.Errorf("%s: %w", key, store.ErrNotFound))
			return
		}
		sink.OnError(store.ErrUnavailable)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.ctx.Done():
			gone()
			return
		case snap, ok := <-out:
			if !ok {
				gone()
				return
			}
			if snap.Deleted {
				continue // the close that follows reports it
			}
			sink.OnChange(snap.Doc)
		}
	}
}

func (s *Store) lookup(ctx context.Context, collection, id string) (*docActor, error) {
	reply := make(chan *docActor, 1)
	if err := s.hub.send(ctx, GetDoc{Key: store.Key(collection, id), Reply: reply}); err != nil {
		return nil, err
	}
	a, err := await(ctx, s.hub.ctx, reply, store.ErrUnavailable)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%s: %w", store.Key(collection, id), store.ErrNotFound)
	}
	return a, nil
}

// await waits for a reply from an actor that may stop before answering.
func await[T any](ctx, actor context.Context, reply <-chan T, gone error) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-actor.Done():
		// the reply may have raced the shutdown
		select {
		case v := <-reply:
			return v, nil
		default:
		}
		return zero, gone
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
