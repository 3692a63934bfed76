// Package person defines the record stored for every member of the social graph.
package person

import (
	"slices"
)

// Gender of a person. The zero value is normalized to Unknown.
type Gender string

const (
	Male    Gender = "MALE"
	Female  Gender = "FEMALE"
	Unknown Gender = "UNKNOWN"
)

// Record is the typed view of a stored person.
//
// FriendIDs is a set: order carries no meaning and duplicates are collapsed
// by Normalize. It is stored as a DynamoDB number set, which cannot be empty,
// hence omitempty.
type Record struct {
	FirstName string   `json:"firstName" dynamodbav:"firstName" validate:"required"`
	LastName  string   `json:"lastName" dynamodbav:"lastName" validate:"required"`
	Age       int      `json:"age" dynamodbav:"age" validate:"gte=0"`
	Gender    Gender   `json:"gender" dynamodbav:"gender" validate:"oneof=MALE FEMALE UNKNOWN"`
	FriendIDs []uint64 `json:"friendIds,omitempty" dynamodbav:"friendIds,numberset,omitempty"`
}

// Normalize applies defaults and canonicalizes the friend set.
func (r *Record) Normalize() {
	if r.Gender == "" {
		r.Gender = Unknown
	}
	if len(r.FriendIDs) == 0 {
		r.FriendIDs = nil
		return
	}
	slices.Sort(r.FriendIDs)
	r.FriendIDs = slices.Compact(r.FriendIDs)
}

// Normalized returns a normalized copy of r and leaves r untouched.
func (r *Record) Normalized() *Record {
	c := r.Clone()
	if c != nil {
		c.Normalize()
	}
	return c
}

// Clone returns a deep copy so callers never share the friend set.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.FriendIDs = slices.Clone(r.FriendIDs)
	return &c
}

// HasFriend reports whether id is in the friend set.
func (r *Record) HasFriend(id uint64) bool {
	return slices.Contains(r.FriendIDs, id)
}

// AddFriend inserts id and reports whether the set changed.
func (r *Record) AddFriend(id uint64) bool {
	if r.HasFriend(id) {
		return false
	}
	r.FriendIDs = append(r.FriendIDs, id)
	slices.Sort(r.FriendIDs)
	return true
}

// RemoveFriend deletes id and reports whether the set changed.
func (r *Record) RemoveFriend(id uint64) bool {
	i := slices.Index(r.FriendIDs, id)
	if i < 0 {
		return false
	}
	r.FriendIDs = slices.Delete(r.FriendIDs, i, i+1)
	if len(r.FriendIDs) == 0 {
		r.FriendIDs = nil
	}
	return true
}
