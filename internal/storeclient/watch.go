package storeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/store"
	"github.com/DoyleJ11/planning-poker/pkg/types"
)

const readLimit = 1 << 20

// Subscribe opens a watch socket in the background. Dial failures and
// dropped connections come back through sink.OnError. A socket that closes
// without an error message first counts as dropped, whatever its status.
func (c *Client) Subscribe(ctx context.Context, collection, id string, sink store.Sink) func() {
	ctx, cancel := context.WithCancel(ctx)
	go c.watch(ctx, collection, id, sink)
	return cancel
}

func (c *Client) watchURL(collection, id string) string {
	u := c.path(collection, id, "watch")
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	default:
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
}

func (c *Client) watch(ctx context.Context, collection, id string, sink store.Sink) {
	key := store.Key(collection, id)

	// dial without the client-wide timeout; the socket is long lived
	hc := *c.http
	hc.Timeout = 0
	conn, resp, err := websocket.Dial(ctx, c.watchURL(collection, id), &websocket.DialOptions{HTTPClient: &hc})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			sink.OnError(fmt.Errorf("%s: %w", key, store.ErrNotFound))
			return
		}
		sink.OnError(fmt.Errorf("%w: watch %s: %v", store.ErrUnavailable, key, err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	conn.SetReadLimit(readLimit)

	reported := false
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || reported {
				return
			}
			sink.OnError(fmt.Errorf("%w: watch %s closed: %v", store.ErrUnavailable, key, err))
			return
		}

		var msg types.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("bad watch message", zap.String("key", key), zap.Error(err))
			continue
		}

		switch msg.Type {
		case types.MsgSnapshot:
			sink.OnChange(msg.Document)
		case types.MsgError:
			err := fmt.Errorf("%w: %s", sentinelFor(msg.Code, 0), msg.Error)
			sink.OnError(err)
			reported = true
			if msg.Code == types.CodeNotFound {
				return
			}
		default:
			c.log.Warn("unknown watch message", zap.String("type", msg.Type))
		}
	}
}
