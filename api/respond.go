package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jacentio/socialgraph/person"
	"github.com/jacentio/socialgraph/store"
)

// personView is a person as rendered by the API.
type personView struct {
	ID        uint64        `json:"id"`
	FirstName string        `json:"firstName"`
	LastName  string        `json:"lastName"`
	Age       int           `json:"age"`
	Gender    person.Gender `json:"gender"`
	FriendIDs []uint64      `json:"friendIds"`
}

// userView is a person with its friends resolved.
type userView struct {
	personView
	Friends []personView `json:"friends"`
}

// personRequest is the body of create and update calls.
type personRequest struct {
	FirstName string        `json:"firstName"`
	LastName  string        `json:"lastName"`
	Age       int           `json:"age"`
	Gender    person.Gender `json:"gender"`
	FriendIDs []uint64      `json:"friendIds"`
}

// friendRequest is the body of POST /users/{userId}/friends.
type friendRequest struct {
	ID *uint64 `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newPersonView(id uint64, rec *person.Record) personView {
	ids := rec.FriendIDs
	if ids == nil {
		ids = []uint64{}
	}
	return personView{
		ID:        id,
		FirstName: rec.FirstName,
		LastName:  rec.LastName,
		Age:       rec.Age,
		Gender:    rec.Gender,
		FriendIDs: ids,
	}
}

func pathID(r *http.Request, name string) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, person.Invalid("path variable %q is not valid", name)
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return person.Invalid("invalid request body: %v", err)
	}
	return nil
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, errorResponse{Error: msg})
}

func (h *Handler) notFound(w http.ResponseWriter, format string, args ...any) {
	h.respondError(w, http.StatusNotFound, fmt.Sprintf(format, args...))
}

// fail maps err onto a response. Validation problems are the caller's
// fault; everything else is logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, person.ErrInvalid):
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrConflict):
		h.respondError(w, http.StatusConflict, "concurrent modification, retry the request")
	case errors.Is(err, store.ErrTxTimeout), errors.Is(err, store.ErrLockTimeout):
		h.respondError(w, http.StatusServiceUnavailable, "store busy, retry the request")
	default:
		h.respondError(w, http.StatusInternalServerError, "Something goes wrong")
	}
	h.logger.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
}
