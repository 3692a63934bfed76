// Package people owns person records and the friend-set membership stored
// inside each of them.
//
// Edge membership is only ever changed through [Repository.AddFriendEdgeMember]
// and [Repository.RemoveFriendEdgeMember], which run as a single atomic
// Invoke on the owner's key. Whether the two sides of an edge change
// together is up to the caller's transaction; see package friends.
package people

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jacentio/socialgraph/async"
	"github.com/jacentio/socialgraph/person"
	"github.com/jacentio/socialgraph/store"
)

// Entry is a person paired with its identifier.
type Entry = store.Entry[person.Record]

// Repository maps person identifiers to person records.
type Repository struct {
	store    store.Store[person.Record]
	deferred store.Deferred[person.Record]
	logger   *slog.Logger
}

// New creates a Repository over s. If logger is nil, slog.Default() is used.
func New(s store.Store[person.Record], logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		store:    s,
		deferred: store.NewDeferred(s),
		logger:   logger,
	}
}

// Store returns the underlying record store.
func (r *Repository) Store() store.Store[person.Record] {
	return r.store
}

// Create stores the normalized form of rec under a fresh identifier and
// returns it. New people start without friends. rec is not modified.
func (r *Repository) Create(ctx context.Context, rec *person.Record) (uint64, error) {
	if err := person.Validate(rec); err != nil {
		return 0, err
	}
	stored := rec.Normalized()
	if len(stored.FriendIDs) > 0 {
		return 0, person.Invalid("friendIds cannot be set on create")
	}

	id, err := r.store.NextSequence(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocate person id: %w", err)
	}
	if err := r.store.Put(ctx, id, stored); err != nil {
		return 0, fmt.Errorf("put person %d: %w", id, err)
	}

	r.logger.Debug("person created", slog.Uint64("id", id))
	return id, nil
}

// Read returns the person at id.
func (r *Repository) Read(ctx context.Context, id uint64) (*person.Record, bool, error) {
	rec, ok, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("get person %d: %w", id, err)
	}
	return rec, ok, nil
}

// ReadAsync is Read as a Future.
func (r *Repository) ReadAsync(ctx context.Context, id uint64) *async.Future[*person.Record] {
	return r.deferred.GetAsync(ctx, id)
}

// ReadMany returns the people present among ids. An empty ids returns an
// empty map without touching the store.
func (r *Repository) ReadMany(ctx context.Context, ids []uint64) (map[uint64]*person.Record, error) {
	if len(ids) == 0 {
		return map[uint64]*person.Record{}, nil
	}
	recs, err := r.store.GetAll(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get %d persons: %w", len(ids), err)
	}
	return recs, nil
}

// ReadManyStream streams the people present among ids, one pair per person.
func (r *Repository) ReadManyStream(ctx context.Context, ids []uint64) *async.Stream[async.Pair[uint64, *person.Record]] {
	return async.FromMap(ctx, r.deferred.GetAllAsync(ctx, ids))
}

// Update replaces the whole record at id, friend set included. It reports
// false when nobody lives at id.
func (r *Repository) Update(ctx context.Context, id uint64, rec *person.Record) (bool, error) {
	if err := person.ValidateFor(id, rec); err != nil {
		return false, err
	}
	ok, err := r.store.Replace(ctx, id, rec.Normalized())
	if err != nil {
		return false, fmt.Errorf("replace person %d: %w", id, err)
	}
	return ok, nil
}

// UpdateProfile is Update except that the stored friend set is kept and the
// friend set of rec is ignored. Read and write happen in one Invoke.
func (r *Repository) UpdateProfile(ctx context.Context, id uint64, rec *person.Record) (bool, error) {
	if rec != nil {
		rec = rec.Normalized()
		rec.FriendIDs = nil
	}
	if err := person.Validate(rec); err != nil {
		return false, err
	}

	var applied bool
	err := r.store.Invoke(ctx, id, func(current *person.Record) (*person.Record, error) {
		applied = current != nil
		if !applied {
			return nil, nil
		}
		next := rec.Clone()
		next.FriendIDs = append([]uint64(nil), current.FriendIDs...)
		return next, nil
	})
	if err != nil {
		return false, fmt.Errorf("update person %d: %w", id, err)
	}
	return applied, nil
}

// Delete removes the person at id. Friend sets of other people are left as
// they are.
func (r *Repository) Delete(ctx context.Context, id uint64) (bool, error) {
	ok, err := r.store.Remove(ctx, id)
	if err != nil {
		return false, fmt.Errorf("remove person %d: %w", id, err)
	}
	if ok {
		r.logger.Debug("person deleted", slog.Uint64("id", id))
	}
	return ok, nil
}

// AddFriendEdgeMember adds other to owner's friend set. It reports false,
// writing nothing, when owner does not exist or other is already a member.
func (r *Repository) AddFriendEdgeMember(ctx context.Context, owner, other uint64) (bool, error) {
	return r.mutateFriends(ctx, owner, func(rec *person.Record) bool {
		return rec.AddFriend(other)
	})
}

// RemoveFriendEdgeMember removes other from owner's friend set. It reports
// false, writing nothing, when owner does not exist or other is not a member.
func (r *Repository) RemoveFriendEdgeMember(ctx context.Context, owner, other uint64) (bool, error) {
	return r.mutateFriends(ctx, owner, func(rec *person.Record) bool {
		return rec.RemoveFriend(other)
	})
}

// ContainsFriendEdgeMember reports whether other is in owner's friend set.
// It reads through Invoke so it never sees a half-applied mutation of owner.
func (r *Repository) ContainsFriendEdgeMember(ctx context.Context, owner, other uint64) (bool, error) {
	var found bool
	err := r.store.Invoke(ctx, owner, func(current *person.Record) (*person.Record, error) {
		found = current != nil && current.HasFriend(other)
		return nil, nil
	})
	if err != nil {
		return false, fmt.Errorf("read friends of %d: %w", owner, err)
	}
	return found, nil
}

// FriendIDs returns owner's friend set. ok is false when owner does not exist.
func (r *Repository) FriendIDs(ctx context.Context, owner uint64) (ids []uint64, ok bool, err error) {
	err = r.store.Invoke(ctx, owner, func(current *person.Record) (*person.Record, error) {
		if current != nil {
			ok = true
			ids = append([]uint64(nil), current.FriendIDs...)
		}
		return nil, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("read friends of %d: %w", owner, err)
	}
	return ids, ok, nil
}

func (r *Repository) mutateFriends(ctx context.Context, owner uint64, change func(*person.Record) bool) (bool, error) {
	var changed bool
	err := r.store.Invoke(ctx, owner, func(current *person.Record) (*person.Record, error) {
		changed = false
		if current == nil {
			return nil, nil
		}
		next := current.Clone()
		if !change(next) {
			return nil, nil
		}
		changed = true
		return next, nil
	})
	if err != nil {
		return false, fmt.Errorf("update friends of %d: %w", owner, err)
	}
	return changed, nil
}

// QueryByNameSubstring streams the people whose first name contains
// firstPart and whose last name contains lastPart. A nil part matches
// everyone. Matching is case-sensitive.
func (r *Repository) QueryByNameSubstring(ctx context.Context, firstPart, lastPart *string) *async.Stream[Entry] {
	return r.deferred.ScanAsync(ctx, NameFilter(firstPart, lastPart))
}

// NameFilter returns the scan predicate used by QueryByNameSubstring.
func NameFilter(firstPart, lastPart *string) store.Predicate[person.Record] {
	return func(_ uint64, rec *person.Record) bool {
		if firstPart != nil && !strings.Contains(rec.FirstName, *firstPart) {
			return false
		}
		if lastPart != nil && !strings.Contains(rec.LastName, *lastPart) {
			return false
		}
		return true
	}
}
