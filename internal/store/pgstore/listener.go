package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/store"
)

const reconnectWait = time.Second

type subscriber struct {
	collection string
	id         string
	sink       store.Sink
	wake       chan struct{} // buffered 1; a pending wake covers any number of changes
	ctx        context.Context
	cancel     context.CancelFunc
}

func (sub *subscriber) poke() {
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (s *Store) Subscribe(ctx context.Context, collection, id string, sink store.Sink) func() {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscriber{
		collection: collection,
		id:         id,
		sink:       sink,
		wake:       make(chan struct{}, 1),
		ctx:        subCtx,
		cancel:     cancel,
	}

	key := store.Key(collection, id)
	s.mu.Lock()
	s.nextID++
	subID := s.nextID
	if s.subs[key] == nil {
		s.subs[key] = make(map[uint64]*subscriber)
	}
	s.subs[key][subID] = sub
	s.mu.Unlock()

	sub.poke() // initial delivery
	go s.pump(sub, key, subID)

	return cancel
}

// revision identifies one state of a row. A row deleted and created again
// under the same id restarts at version 1, so creation time is part of it.
type revision struct {
	created time.Time
	version int64
}

func revisionOf(row documentRow) revision {
	return revision{created: row.CreatedAt, version: row.Version}
}

// newer reports whether r has not been delivered when last was.
func (r revision) newer(last revision) bool {
	if !r.created.Equal(last.created) {
		return true
	}
	return r.version > last.version
}

// pump re-reads the row on every wake and forwards revisions it has not
// delivered yet.
func (s *Store) pump(sub *subscriber, key string, subID uint64) {
	defer s.forget(key, subID)

	var delivered revision
	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-sub.wake:
		}

		row, err := s.load(sub.ctx, s.db, sub.collection, sub.id, false)
		if sub.ctx.Err() != nil {
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			sub.sink.OnError(err)
			return
		}
		if err != nil {
			s.log.Warn("subscriber read failed", zap.String("key", key), zap.Error(err))
			sub.sink.OnError(err)
			continue
		}
		rev := revisionOf(row)
		if !rev.newer(delivered) {
			continue
		}
		doc, err := decode(row)
		if err != nil {
			sub.sink.OnError(err)
			continue
		}
		delivered = rev
		sub.sink.OnChange(doc)
	}
}

func (s *Store) forget(key string, subID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.subs[key]; m != nil {
		if sub := m[subID]; sub != nil {
			sub.cancel()
		}
		delete(m, subID)
		if len(m) == 0 {
			delete(s.subs, key)
		}
	}
}

func (s *Store) wake(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs[key] {
		sub.poke()
	}
}

func (s *Store) wakeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.subs {
		for _, sub := range m {
			sub.poke()
		}
	}
}

// listen holds one dedicated connection in LISTEN mode. After a reconnect
// every subscriber is woken, since notifications may have been missed.
func (s *Store) listen(ctx context.Context) {
	defer close(s.done)
	for {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("listener disconnected", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectWait):
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.log.Debug("listening", zap.String("channel", NotifyChannel))
	s.wakeAll()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.wake(n.Payload)
	}
}
