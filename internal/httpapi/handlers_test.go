package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/store"
	"github.com/DoyleJ11/planning-poker/internal/store/memstore"
	"github.com/DoyleJ11/planning-poker/pkg/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *memstore.Store) {
	t.Helper()
	st := memstore.New(context.Background())
	t.Cleanup(st.Close)
	srv := httptest.NewServer(SetupRoutes(st, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, st
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignIn(t *testing.T) {
	srv, _ := newTestServer(t)

	fresh := decode[types.SignInResponse](t, do(t, http.MethodPost, srv.URL+"/v1/auth/anonymous", nil))
	_, err := uuid.Parse(fresh.UID)
	require.NoError(t, err)

	kept := decode[types.SignInResponse](t, do(t, http.MethodPost, srv.URL+"/v1/auth/anonymous", types.SignInRequest{Hint: fresh.UID}))
	assert.Equal(t, fresh.UID, kept.UID)

	replaced := decode[types.SignInResponse](t, do(t, http.MethodPost, srv.URL+"/v1/auth/anonymous", types.SignInRequest{Hint: "not-a-uuid"}))
	assert.NotEqual(t, "not-a-uuid", replaced.UID)
}

func TestDocumentLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	url := srv.URL + "/v1/sessions/ABC123"

	resp := do(t, http.MethodPost, url, types.CreateRequest{Document: store.Document{
		"id": "ABC123", "players": []any{}, "createdAt": store.ServerTimestamp(),
	}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodPost, url, types.CreateRequest{Document: store.Document{"id": "ABC123"}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, types.CodeAlreadyExists, decode[types.ErrorResponse](t, resp).Code)

	resp = do(t, http.MethodPatch, url, types.UpdateRequest{Ops: store.ToWire(
		store.AppendUnique("players", map[string]any{"id": "p1", "name": "Alice", "vote": nil}, "id"),
		store.SetWhere("players", "id", "p1", "vote", 8),
	)})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	got := decode[types.DocumentResponse](t, do(t, http.MethodGet, url, nil))
	players := got.Document["players"].([]any)
	require.Len(t, players, 1)
	assert.Equal(t, 8.0, players[0].(map[string]any)["vote"])
	assert.IsType(t, float64(0), got.Document["createdAt"])

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, url, nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, url, nil).StatusCode)

	resp = do(t, http.MethodGet, url, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, types.CodeNotFound, decode[types.ErrorResponse](t, resp).Code)
}

func TestBadRequests(t *testing.T) {
	srv, st := newTestServer(t)
	url := srv.URL + "/v1/sessions/ABC123"
	require.NoError(t, st.Create(context.Background(), "sessions", "ABC123", store.Document{"players": "oops"}))

	tests := []struct {
		name   string
		method string
		body   any
		status int
		code   string
	}{
		{"create without document", http.MethodPost, map[string]any{}, http.StatusBadRequest, types.CodeBadRequest},
		{"update without ops", http.MethodPatch, types.UpdateRequest{}, http.StatusBadRequest, types.CodeBadRequest},
		{"op on non-array", http.MethodPatch, types.UpdateRequest{Ops: store.ToWire(store.SetEach("players", "vote", nil))}, http.StatusBadRequest, types.CodeInvalidUpdate},
		{"unknown op", http.MethodPatch, types.UpdateRequest{Ops: []types.Op{{Kind: "explode", Field: "x"}}}, http.StatusBadRequest, types.CodeInvalidUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, url, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decode[types.ErrorResponse](t, resp).Code)
		})
	}

	resp := do(t, http.MethodPatch, srv.URL+"/v1/sessions/NOPE00", types.UpdateRequest{Ops: store.ToWire(store.Set("revealed", true))})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	status, code := StatusFor(store.ErrUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, types.CodeUnavailable, code)

	status, _ = StatusFor(context.DeadlineExceeded)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func readMessage(t *testing.T, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWatch(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "sessions", "ABC123", store.Document{"revealed": false}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/ABC123/watch"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	first := readMessage(t, conn)
	assert.Equal(t, types.MsgSnapshot, first.Type)
	assert.Equal(t, false, first.Document["revealed"])

	require.NoError(t, st.Update(ctx, "sessions", "ABC123", store.Set("revealed", true)))
	next := readMessage(t, conn)
	assert.Equal(t, types.MsgSnapshot, next.Type)
	assert.Equal(t, true, next.Document["revealed"])
	assert.Greater(t, next.Version, first.Version)

	require.NoError(t, st.Delete(ctx, "sessions", "ABC123"))
	gone := readMessage(t, conn)
	assert.Equal(t, types.MsgError, gone.Type)
	assert.Equal(t, types.CodeNotFound, gone.Code)
}

func TestWatch_MissingDocument(t *testing.T) {
	srv, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/NOPE00/watch"
	_, resp, err := websocket.Dial(context.Background(), wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWatch_StoreFailureIsNotNormalClosure(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, "sessions", "ABC123", store.Document{"revealed": false}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/ABC123/watch"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	assert.Equal(t, types.MsgSnapshot, readMessage(t, conn).Type)

	st.Close()
	broken := readMessage(t, conn)
	assert.Equal(t, types.MsgError, broken.Type)
	assert.Equal(t, types.CodeUnavailable, broken.Code)

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, _, err = conn.Read(readCtx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
