package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/store"
	"github.com/DoyleJ11/planning-poker/pkg/types"
)

const (
	writeTimeout  = 3 * time.Second
	heartbeatEach = 30 * time.Second
)

// Handler streams one document to one websocket. Watchers never send
// anything; the read side only notices the close.
func Handler(st store.Store, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		collection, id := chi.URLParam(r, "collection"), chi.URLParam(r, "id")

		if _, err := st.Get(r.Context(), collection, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "document not found", http.StatusNotFound)
				return
			}
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}

		// Watchers are native clients without an Origin header, so the
		// library's same-origin default is left alone.
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		// Only a deleted document ends the watch normally. Every other
		// exit tells the client its stream broke.
		status, reason := websocket.StatusGoingAway, "watch interrupted"
		defer func() { conn.Close(status, reason) }()

		ctx := conn.CloseRead(r.Context())
		out := make(chan types.ServerMessage, 1)
		version := 0

		unsubscribe := st.Subscribe(ctx, collection, id, store.SinkFuncs{
			Change: func(doc store.Document) {
				version++
				offer(out, types.ServerMessage{Type: types.MsgSnapshot, Version: version, Document: doc})
			},
			Error: func(err error) {
				msg := types.ServerMessage{Type: types.MsgError, Code: types.CodeUnavailable, Error: err.Error()}
				if errors.Is(err, store.ErrNotFound) {
					msg.Code = types.CodeNotFound
				}
				// errors must not be coalesced away by a later snapshot
				select {
				case out <- msg:
				case <-ctx.Done():
				}
			},
		})
		defer unsubscribe()

		heartbeat := time.NewTicker(heartbeatEach)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case msg := <-out:
				payload, _ := json.Marshal(msg)
				if err := write(ctx, conn, payload); err != nil {
					log.Debug("watch write failed", zap.Error(err))
					return
				}
				if msg.Type == types.MsgError {
					if msg.Code == types.CodeNotFound {
						status, reason = websocket.StatusNormalClosure, "document gone"
					}
					return
				}

			case <-heartbeat.C:
				pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := conn.Ping(pingCtx)
				cancel()
				if err != nil {
					log.Debug("watch ping failed", zap.Error(err))
					return
				}
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

// offer keeps only the newest snapshot waiting for a slow socket.
func offer(ch chan types.ServerMessage, msg types.ServerMessage) {
	select {
	case ch <- msg:
		return
	default:
	}
	select {
	case old := <-ch:
		if old.Type == types.MsgError {
			ch <- old
			return
		}
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}
