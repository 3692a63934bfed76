// Package friends keeps friend edges symmetric.
//
// An edge between A and B is stored twice, as B in A's friend set and A in
// B's. CreateEdge and DeleteEdge change both sides inside one optimistic
// serializable transaction, so a caller sees either both sides or neither.
// A lost race surfaces as store.ErrConflict and is not retried here.
package friends

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jacentio/socialgraph/async"
	"github.com/jacentio/socialgraph/people"
	"github.com/jacentio/socialgraph/person"
	"github.com/jacentio/socialgraph/store"
	"github.com/jacentio/socialgraph/txn"
)

var edgeOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "socialgraph_edge_operations_total",
	Help: "Friend edge operations by operation and result (ok, absent, conflict, error)",
}, []string{"op", "result"})

// Friend is a person reached through an edge.
type Friend = async.Pair[uint64, *person.Record]

// Service creates, deletes and reads friend edges.
type Service struct {
	people *people.Repository
	coord  *txn.Coordinator
	opts   store.TxOptions
	logger *slog.Logger
}

// New creates a Service. Edge mutations run in OPTIMISTIC/SERIALIZABLE
// transactions bounded by timeout (0 means unbounded). If logger is nil,
// slog.Default() is used.
func New(repo *people.Repository, coord *txn.Coordinator, timeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		people: repo,
		coord:  coord,
		opts: store.TxOptions{
			Concurrency: store.Optimistic,
			Isolation:   store.Serializable,
			Timeout:     timeout,
		},
		logger: logger,
	}
}

// CreateEdge makes userID and friendID friends and returns friendID. ok is
// false when either person is missing or the edge already exists from
// either side; nothing is written in that case.
func (s *Service) CreateEdge(ctx context.Context, userID, friendID uint64) (uint64, bool, error) {
	if userID == friendID {
		return 0, false, person.Invalid("a person cannot befriend themselves (id %d)", userID)
	}
	id, ok, err := txn.Run(ctx, s.coord, s.opts, func(ctx context.Context) (uint64, bool, error) {
		added, err := s.people.AddFriendEdgeMember(ctx, userID, friendID)
		if err != nil || !added {
			return 0, false, err
		}
		added, err = s.people.AddFriendEdgeMember(ctx, friendID, userID)
		if err != nil || !added {
			return 0, false, err
		}
		return friendID, true, nil
	})
	s.record("create", ok, err)
	if err != nil {
		s.logger.Warn("create edge failed",
			slog.Uint64("user", userID),
			slog.Uint64("friend", friendID),
			slog.String("error", err.Error()),
		)
	}
	return id, ok, err
}

// CreateEdgeAsync is CreateEdge as a Future.
func (s *Service) CreateEdgeAsync(ctx context.Context, userID, friendID uint64) *async.Future[uint64] {
	return async.Go(ctx, func(ctx context.Context) (uint64, bool, error) {
		return s.CreateEdge(ctx, userID, friendID)
	})
}

// DeleteEdge removes the edge between userID and friendID. It reports false
// when the edge is missing on either side; nothing is written in that case.
func (s *Service) DeleteEdge(ctx context.Context, userID, friendID uint64) (bool, error) {
	if userID == friendID {
		return false, person.Invalid("a person cannot befriend themselves (id %d)", userID)
	}
	_, ok, err := txn.Run(ctx, s.coord, s.opts, func(ctx context.Context) (struct{}, bool, error) {
		removed, err := s.people.RemoveFriendEdgeMember(ctx, userID, friendID)
		if err != nil || !removed {
			return struct{}{}, false, err
		}
		removed, err = s.people.RemoveFriendEdgeMember(ctx, friendID, userID)
		if err != nil || !removed {
			return struct{}{}, false, err
		}
		return struct{}{}, true, nil
	})
	s.record("delete", ok, err)
	if err != nil {
		s.logger.Warn("delete edge failed",
			slog.Uint64("user", userID),
			slog.Uint64("friend", friendID),
			slog.String("error", err.Error()),
		)
	}
	return ok, err
}

// DeleteEdgeAsync is DeleteEdge as a Future that is empty when nothing was
// deleted.
func (s *Service) DeleteEdgeAsync(ctx context.Context, userID, friendID uint64) *async.Future[struct{}] {
	return async.Go(ctx, func(ctx context.Context) (struct{}, bool, error) {
		ok, err := s.DeleteEdge(ctx, userID, friendID)
		return struct{}{}, ok, err
	})
}

// ReadAllFriends streams the friends of userID in ascending id order. Ids
// that no longer resolve to a person are skipped. A missing user yields an
// empty stream.
func (s *Service) ReadAllFriends(ctx context.Context, userID uint64) *async.Stream[Friend] {
	return async.Produce(ctx, func(ctx context.Context, emit func(Friend) bool) error {
		ids, _, err := s.people.FriendIDs(ctx, userID)
		if err != nil {
			return err
		}
		recs, err := s.people.ReadMany(ctx, ids)
		if err != nil {
			return err
		}
		slices.Sort(ids)
		for _, id := range ids {
			rec, ok := recs[id]
			if !ok {
				continue
			}
			if !emit(Friend{Key: id, Value: rec}) {
				return nil
			}
		}
		return nil
	})
}

// ReadFriend returns friendID's record when friendID is a friend of userID.
func (s *Service) ReadFriend(ctx context.Context, userID, friendID uint64) (*person.Record, bool, error) {
	has, err := s.people.ContainsFriendEdgeMember(ctx, userID, friendID)
	if err != nil || !has {
		return nil, false, err
	}
	return s.people.Read(ctx, friendID)
}

func (s *Service) record(op string, ok bool, err error) {
	result := "ok"
	switch {
	case errors.Is(err, store.ErrConflict):
		result = "conflict"
	case err != nil:
		result = "error"
	case !ok:
		result = "absent"
	}
	edgeOps.WithLabelValues(op, result).Inc()
}
