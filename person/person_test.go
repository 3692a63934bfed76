package person

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	r := &Record{FirstName: "Ann", LastName: "Lee", FriendIDs: []uint64{3, 1, 3, 2}}
	r.Normalize()

	assert.Equal(t, Unknown, r.Gender)
	assert.Equal(t, []uint64{1, 2, 3}, r.FriendIDs)
}

func TestNormalize_EmptyFriendsBecomeNil(t *testing.T) {
	r := &Record{FirstName: "Ann", LastName: "Lee", Gender: Female, FriendIDs: []uint64{}}
	r.Normalize()

	assert.Nil(t, r.FriendIDs)
	assert.Equal(t, Female, r.Gender)
}

func TestFriendSet(t *testing.T) {
	r := &Record{}

	assert.True(t, r.AddFriend(5))
	assert.False(t, r.AddFriend(5), "set, not multiset")
	assert.True(t, r.AddFriend(2))
	assert.Equal(t, []uint64{2, 5}, r.FriendIDs)
	assert.True(t, r.HasFriend(2))

	assert.True(t, r.RemoveFriend(2))
	assert.False(t, r.RemoveFriend(2))
	assert.True(t, r.RemoveFriend(5))
	assert.Nil(t, r.FriendIDs)
}

func TestClone_DoesNotShareFriends(t *testing.T) {
	r := &Record{FirstName: "Ann", FriendIDs: []uint64{1}}
	c := r.Clone()
	c.AddFriend(2)

	assert.Equal(t, []uint64{1}, r.FriendIDs)
	assert.Nil(t, (*Record)(nil).Clone())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		record   *Record
		problems []string
	}{
		{"valid", &Record{FirstName: "Ann", LastName: "Lee", Age: 30}, nil},
		{"nil record", nil, []string{"record is required"}},
		{"missing names", &Record{Age: 1}, []string{"firstName is required", "lastName is required"}},
		{"negative age", &Record{FirstName: "Ann", LastName: "Lee", Age: -1}, []string{"age must be at least 0"}},
		{"bad gender", &Record{FirstName: "Ann", LastName: "Lee", Gender: "OTHER"}, []string{"gender must be one of: MALE FEMALE UNKNOWN"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.record)
			if tt.problems == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.problems, verr.Problems)
		})
	}
}

func TestValidateFor_RejectsSelfReference(t *testing.T) {
	r := &Record{FirstName: "Ann", LastName: "Lee", FriendIDs: []uint64{7}}

	require.NoError(t, ValidateFor(1, r))
	err := ValidateFor(7, r)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "own id 7")
}

func TestNormalized_LeavesReceiverUntouched(t *testing.T) {
	r := &Record{FirstName: "Ann", LastName: "Lee", FriendIDs: []uint64{3, 1, 3}}
	n := r.Normalized()

	assert.Equal(t, []uint64{1, 3}, n.FriendIDs)
	assert.Equal(t, Unknown, n.Gender)
	assert.Equal(t, []uint64{3, 1, 3}, r.FriendIDs)
	assert.Empty(t, r.Gender)
	assert.Nil(t, (*Record)(nil).Normalized())
}

func TestValidate_DoesNotModifyRecord(t *testing.T) {
	r := &Record{FirstName: "Ann", LastName: "Lee", FriendIDs: []uint64{2, 1, 2}}
	want := *r.Clone()

	require.NoError(t, Validate(r))
	require.NoError(t, ValidateFor(9, r))
	assert.Equal(t, want, *r)
}
