package memstore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/DoyleJ11/planning-poker/internal/store"
)

type Msg interface{ isDocMsg() }

type Read struct {
	Reply chan Snapshot
}

func (Read) isDocMsg() {}

type Write struct {
	Ops   []store.Op
	Reply chan error
}

func (Write) isDocMsg() {}

type Watch struct {
	SubID  string
	Outbox chan Snapshot // buffered; only ever holds the latest snapshot
}

func (Watch) isDocMsg() {}

type Unwatch struct{ SubID string }

func (Unwatch) isDocMsg() {}

// Remove deletes the document: watchers get a final Deleted snapshot.
type Remove struct {
	Reply chan struct{}
}

func (Remove) isDocMsg() {}

type Shutdown struct{}

func (Shutdown) isDocMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isDocMsg() {}

type Snapshot struct {
	Version int
	Doc     store.Document
	Deleted bool
}

type View struct {
	Version     int
	NumWatchers int
	Doc         store.Document
}

// docActor owns one document. All reads and writes go through its inbox so
// every op list is applied atomically and in arrival order.
type docActor struct {
	inbox    chan Msg
	doc      store.Document
	version  int
	watchers map[string]chan Snapshot
	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	removed  atomic.Bool // set before cancel when the document was deleted
}

func newDocActor(parent context.Context, initial store.Document, now func() time.Time) *docActor {
	ctx, cancel := context.WithCancel(parent)

	a := &docActor{
		inbox:    make(chan Msg, 64),
		doc:      initial,
		version:  1,
		watchers: make(map[string]chan Snapshot),
		now:      now,
		ctx:      ctx,
		cancel:   cancel,
	}

	go a.loop()
	return a
}

func (a *docActor) loop() {
	for {
		select {
		case <-a.ctx.Done():
			a.shutdown(false)
			return

		case m := <-a.inbox:
			switch msg := m.(type) {
			case Read:
				msg.Reply <- a.snapshot()

			case Write:
				next, err := store.Apply(a.doc, msg.Ops, a.now())
				if err != nil {
					msg.Reply <- err
					break
				}
				a.doc = next
				a.version++
				msg.Reply <- nil
				a.broadcast(a.snapshot())

			case Watch:
				a.watchers[msg.SubID] = msg.Outbox
				offer(msg.Outbox, a.snapshot())

			case Unwatch:
				if ch, ok := a.watchers[msg.SubID]; ok {
					close(ch)
					delete(a.watchers, msg.SubID)
				}

			case Remove:
				a.removed.Store(true)
				a.shutdown(true)
				close(msg.Reply)
				return

			case GetState:
				msg.Reply <- View{
					Version:     a.version,
					NumWatchers: len(a.watchers),
					Doc:         a.copyDoc(),
				}

			case Shutdown:
				a.shutdown(false)
				return
			}
		}
	}
}

func (a *docActor) snapshot() Snapshot {
	return Snapshot{Version: a.version, Doc: a.copyDoc()}
}

func (a *docActor) copyDoc() store.Document {
	// a.doc only ever holds JSON-shaped values, so Clone cannot fail here.
	doc, _ := store.Clone(a.doc)
	return doc
}

func (a *docActor) shutdown(deleted bool) {
	for id, ch := range a.watchers {
		if deleted {
			offer(ch, Snapshot{Version: a.version + 1, Deleted: true})
		}
		close(ch) // no more snapshots
		delete(a.watchers, id)
	}
	a.cancel()
}

func (a *docActor) broadcast(snap Snapshot) {
	for _, ch := range a.watchers {
		offer(ch, snap)
	}
}

// offer replaces whatever is waiting in ch with snap. Slow watchers skip
// intermediate versions instead of being dropped.
func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// send delivers m unless the actor or the caller gave up first.
func (a *docActor) send(ctx context.Context, m Msg) error {
	if a.ctx.Err() != nil {
		return store.ErrNotFound
	}
	select {
	case a.inbox <- m:
		return nil
	case <-a.ctx.Done():
		return store.ErrNotFound
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inbox exposes the actor to tests.
func (a *docActor) Inbox() chan<- Msg { return a.inbox }
