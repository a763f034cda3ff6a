package types

// Client -> Server (HTTP)
//   POST   /v1/auth/anonymous          SignInRequest  -> SignInResponse
//   POST   /v1/{collection}/{id}       CreateRequest  -> 201
//   GET    /v1/{collection}/{id}                      -> DocumentResponse
//   PATCH  /v1/{collection}/{id}       UpdateRequest  -> 204
//   DELETE /v1/{collection}/{id}                      -> 204
//
// Server -> Client (websocket, GET /v1/{collection}/{id}/watch)
//   ServerMessage{Type: "Snapshot"} on subscribe and after every change
//   ServerMessage{Type: "Error"} when the document is gone, then close

const (
	MsgSnapshot = "Snapshot"
	MsgError    = "Error"
)

// Error codes shared by HTTP bodies and websocket errors.
const (
	CodeNotFound      = "not_found"
	CodeAlreadyExists = "already_exists"
	CodeInvalidUpdate = "invalid_update"
	CodeUnavailable   = "unavailable"
	CodeBadRequest    = "bad_request"
)

// Document is a JSON object as stored and streamed.
type Document = map[string]any

// Op is the wire shape of one field-level mutation. Kind is one of
// "set", "append_unique", "set_where" or "set_each".
type Op struct {
	Kind     string `json:"kind"`
	Field    string `json:"field"`
	Value    any    `json:"value"`
	Key      string `json:"key,omitempty"`
	Match    any    `json:"match,omitempty"`
	Subfield string `json:"subfield,omitempty"`
}

type SignInRequest struct {
	Hint string `json:"hint,omitempty"`
}

type SignInResponse struct {
	UID string `json:"uid"`
}

type CreateRequest struct {
	Document Document `json:"document"`
}

type UpdateRequest struct {
	Ops []Op `json:"ops"`
}

type DocumentResponse struct {
	Document Document `json:"document"`
}

type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type ServerMessage struct {
	Type     string         `json:"type"` // "Snapshot" | "Error"
	Version  int            `json:"version,omitempty"`
	Document Document `json:"document,omitempty"`
	Code     string         `json:"code,omitempty"`
	Error    string         `json:"error,omitempty"`
}
