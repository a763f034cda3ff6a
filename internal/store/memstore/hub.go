package memstore

import (
	"context"
	"time"

	"github.com/DoyleJ11/planning-poker/internal/store"
)

type HubMsg interface{ isHubMsg() }

type CreateDoc struct {
	Key   string
	Doc   store.Document
	Reply chan *docActor // nil when the key is taken
}

type GetDoc struct {
	Key   string
	Reply chan *docActor
}

// DetachDoc forgets the key and hands back its actor, if any.
type DetachDoc struct {
	Key   string
	Reply chan *docActor
}

type CountDocs struct {
	Reply chan int
}

type ShutdownHub struct{}

func (CreateDoc) isHubMsg()   {}
func (GetDoc) isHubMsg()      {}
func (DetachDoc) isHubMsg()   {}
func (CountDocs) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

// Hub maps document keys to their actors.
type Hub struct {
	inbox  chan HubMsg
	docs   map[string]*docActor
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, now func() time.Time) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		docs:   make(map[string]*docActor),
		now:    now,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateDoc:
				if a := h.docs[msg.Key]; a != nil {
					msg.Reply <- nil
					break
				}
				a := newDocActor(h.ctx, msg.Doc, h.now)
				h.docs[msg.Key] = a
				msg.Reply <- a

			case GetDoc:
				msg.Reply <- h.docs[msg.Key] // may be nil

			case DetachDoc:
				a := h.docs[msg.Key]
				delete(h.docs, msg.Key)
				msg.Reply <- a

			case CountDocs:
				msg.Reply <- len(h.docs)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, a := range h.docs {
		select {
		case a.inbox <- Shutdown{}:
		default:
			a.cancel()
		}
	}
	clear(h.docs)
	h.cancel()
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.ctx.Done():
		return store.ErrUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}
