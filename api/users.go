package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sort"

	"github.com/jacentio/socialgraph/people"
	"github.com/jacentio/socialgraph/person"
)

// createUser handles POST /users.
func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req personRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.FriendIDs != nil {
		h.fail(w, r, person.Invalid("friendIds are managed through /users/{userId}/friends"))
		return
	}

	rec := &person.Record{FirstName: req.FirstName, LastName: req.LastName, Age: req.Age, Gender: req.Gender}
	id, err := h.people.Create(r.Context(), rec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/users/%d", id))
	h.respondJSON(w, http.StatusCreated, newPersonView(id, rec.Normalized()))
}

// listUsers handles GET /users?firstName=&lastName=.
func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var first, last *string
	if q.Has("firstName") {
		v := q.Get("firstName")
		first = &v
	}
	if q.Has("lastName") {
		v := q.Get("lastName")
		last = &v
	}

	entries, err := h.people.QueryByNameSubstring(r.Context(), first, last).Collect(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	views, err := h.withFriends(r.Context(), entries)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, views)
}

// getUser handles GET /users/{userId}.
func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rec, ok, err := h.people.Read(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.notFound(w, "user %d not found", id)
		return
	}

	views, err := h.withFriends(r.Context(), []people.Entry{{ID: id, Value: rec}})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, views[0])
}

// updateUser handles PUT /users/{userId}. The friend set is kept.
func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req personRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.FriendIDs != nil {
		h.fail(w, r, person.Invalid("friendIds are managed through /users/{userId}/friends"))
		return
	}

	rec := &person.Record{FirstName: req.FirstName, LastName: req.LastName, Age: req.Age, Gender: req.Gender}
	ok, err := h.people.UpdateProfile(r.Context(), id, rec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.notFound(w, "user %d not found", id)
		return
	}

	updated, found, err := h.people.Read(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		h.notFound(w, "user %d not found", id)
		return
	}
	h.respondJSON(w, http.StatusOK, newPersonView(id, updated))
}

// deleteUser handles DELETE /users/{userId}. Deleting an absent user is not
// an error.
func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.people.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// withFriends renders entries with their friends resolved by one batched
// read. Friends that no longer exist are left out.
func (h *Handler) withFriends(ctx context.Context, entries []people.Entry) ([]userView, error) {
	var ids []uint64
	for _, e := range entries {
		ids = append(ids, e.Value.FriendIDs...)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	friendRecs, err := h.people.ReadMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]userView, 0, len(entries))
	for _, e := range entries {
		v := userView{personView: newPersonView(e.ID, e.Value), Friends: []personView{}}
		for _, fid := range e.Value.FriendIDs {
			if rec, ok := friendRecs[fid]; ok {
				v.Friends = append(v.Friends, newPersonView(fid, rec))
			}
		}
		views = append(views, v)
	}
	return views, nil
}
