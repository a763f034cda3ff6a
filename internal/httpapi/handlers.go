package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/identity"
	"github.com/DoyleJ11/planning-poker/internal/store"
	"github.com/DoyleJ11/planning-poker/pkg/types"
)

const maxBodyBytes = 1 << 20

type API struct {
	store store.Store
	log   *zap.Logger
}

// SignIn hands out a participant id. A well-formed hint is given back so a
// returning client keeps its identity.
func (a *API) SignIn(w http.ResponseWriter, r *http.Request) {
	var req types.SignInRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, types.CodeBadRequest, "bad json")
			return
		}
	}
	writeJSON(w, http.StatusOK, types.SignInResponse{UID: identity.Resolve(req.Hint)})
}

func (a *API) CreateDocument(w http.ResponseWriter, r *http.Request) {
	collection, id := chi.URLParam(r, "collection"), chi.URLParam(r, "id")

	var req types.CreateRequest
	if err := decodeBody(r, &req); err != nil || req.Document == nil {
		writeError(w, http.StatusBadRequest, types.CodeBadRequest, "missing document")
		return
	}
	if err := a.store.Create(r.Context(), collection, id, req.Document); err != nil {
		a.storeError(w, "create", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (a *API) GetDocument(w http.ResponseWriter, r *http.Request) {
	collection, id := chi.URLParam(r, "collection"), chi.URLParam(r, "id")

	doc, err := a.store.Get(r.Context(), collection, id)
	if err != nil {
		a.storeError(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, types.DocumentResponse{Document: doc})
}

func (a *API) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	collection, id := chi.URLParam(r, "collection"), chi.URLParam(r, "id")

	var req types.UpdateRequest
	if err := decodeBody(r, &req); err != nil || len(req.Ops) == 0 {
		writeError(w, http.StatusBadRequest, types.CodeBadRequest, "missing ops")
		return
	}
	if err := a.store.Update(r.Context(), collection, id, store.FromWire(req.Ops)...); err != nil {
		a.storeError(w, "update", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	collection, id := chi.URLParam(r, "collection"), chi.URLParam(r, "id")

	if err := a.store.Delete(r.Context(), collection, id); err != nil {
		a.storeError(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// StatusFor maps store errors onto HTTP statuses and wire codes.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, types.CodeNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict, types.CodeAlreadyExists
	case errors.Is(err, store.ErrInvalidUpdate):
		return http.StatusBadRequest, types.CodeInvalidUpdate
	default:
		return http.StatusServiceUnavailable, types.CodeUnavailable
	}
}

func (a *API) storeError(w http.ResponseWriter, op string, err error) {
	status, code := StatusFor(err)
	if status >= 500 {
		a.log.Error("store "+op+" failed", zap.Error(err))
	}
	writeError(w, status, code, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, types.ErrorResponse{Code: code, Error: msg})
}
