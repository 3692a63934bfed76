package api

import (
	"fmt"
	"net/http"

	"github.com/jacentio/socialgraph/person"
)

// createFriend handles POST /users/{userId}/friends.
func (h *Handler) createFriend(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req friendRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.ID == nil {
		h.fail(w, r, person.Invalid("id is required"))
		return
	}

	friendID, ok, err := h.friends.CreateEdge(r.Context(), userID, *req.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.notFound(w, "user %d or %d not found, or already friends", userID, *req.ID)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/users/%d/friends/%d", userID, friendID))
	w.WriteHeader(http.StatusCreated)
}

// listFriends handles GET /users/{userId}/friends.
func (h *Handler) listFriends(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	views := []personView{}
	s := h.friends.ReadAllFriends(r.Context(), userID)
	for f := range s.Items() {
		views = append(views, newPersonView(f.Key, f.Value))
	}
	if err := s.Err(); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, views)
}

// getFriend handles GET /users/{userId}/friends/{friendId}.
func (h *Handler) getFriend(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	friendID, err := pathID(r, "friendId")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	rec, ok, err := h.friends.ReadFriend(r.Context(), userID, friendID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.notFound(w, "user %d has no friend %d", userID, friendID)
		return
	}
	h.respondJSON(w, http.StatusOK, newPersonView(friendID, rec))
}

// deleteFriend handles DELETE /users/{userId}/friends/{friendId}.
func (h *Handler) deleteFriend(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	friendID, err := pathID(r, "friendId")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ok, err := h.friends.DeleteEdge(r.Context(), userID, friendID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.notFound(w, "user %d has no friend %d", userID, friendID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
