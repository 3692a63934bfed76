package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Config Tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "socialgraph_persons", cfg.Table)
	assert.Equal(t, "socialgraph_sequences", cfg.SequenceTable)
	assert.Equal(t, "socialgraph_locks", cfg.LockTable)
	assert.Equal(t, 8, cfg.MaxCASAttempts)
	assert.Equal(t, 4, cfg.ScanSegments)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name         string
		input        Config
		wantSegments int
		wantCAS      int
	}{
		{"zero value gets defaults", Config{}, 1, 8},
		{"negative segments", Config{ScanSegments: -3}, 1, 8},
		{"too many segments", Config{ScanSegments: 500}, 64, 8},
		{"valid values kept", Config{ScanSegments: 16, MaxCASAttempts: 3}, 16, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.input
			cfg.validate()
			assert.Equal(t, tt.wantSegments, cfg.ScanSegments)
			assert.Equal(t, tt.wantCAS, cfg.MaxCASAttempts)
			assert.NotEmpty(t, cfg.Table)
			assert.NotEmpty(t, cfg.SequenceTable)
			assert.NotEmpty(t, cfg.LockTable)
			assert.NotEmpty(t, cfg.SequenceName)
			assert.Positive(t, cfg.LockLease)
			assert.Positive(t, cfg.LockWait)
		})
	}
}

// --- TxOptions Tests ---

func TestDefaultTxOptions(t *testing.T) {
	opts := DefaultTxOptions()
	assert.Equal(t, Pessimistic, opts.Concurrency)
	assert.Equal(t, Serializable, opts.Isolation)
	assert.Zero(t, opts.Timeout)
	assert.Zero(t, opts.MaxSize)
	assert.NoError(t, opts.Validate())
}

func TestTxOptions_Validate(t *testing.T) {
	tests := []struct {
		name string
		opts TxOptions
		ok   bool
	}{
		{"optimistic read committed", TxOptions{Concurrency: Optimistic, Isolation: ReadCommitted}, true},
		{"pessimistic repeatable read", TxOptions{Concurrency: Pessimistic, Isolation: RepeatableRead, Timeout: time.Second, MaxSize: 2}, true},
		{"empty concurrency", TxOptions{Isolation: Serializable}, false},
		{"unknown isolation", TxOptions{Concurrency: Optimistic, Isolation: "SNAPSHOT"}, false},
		{"negative timeout", TxOptions{Concurrency: Optimistic, Isolation: Serializable, Timeout: -1}, false},
		{"negative size", TxOptions{Concurrency: Optimistic, Isolation: Serializable, MaxSize: -1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

func TestTxFromContext(t *testing.T) {
	assert.Nil(t, TxFromContext(context.Background()))

	tx := newDynamoTx(nil, "t", nil, DefaultTxOptions())
	ctx := WithTx(context.Background(), tx)
	assert.Same(t, tx, TxFromContext(ctx))
}

// --- Item helper Tests ---

func TestItemVersion(t *testing.T) {
	tests := []struct {
		name string
		item map[string]types.AttributeValue
		want int64
	}{
		{"nil item", nil, 0},
		{"no version", map[string]types.AttributeValue{"id": &types.AttributeValueMemberN{Value: "1"}}, 0},
		{"wrong type", map[string]types.AttributeValue{"version": &types.AttributeValueMemberS{Value: "3"}}, 0},
		{"unparseable", map[string]types.AttributeValue{"version": &types.AttributeValueMemberN{Value: "x"}}, 0},
		{"valid", map[string]types.AttributeValue{"version": &types.AttributeValueMemberN{Value: "7"}}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, itemVersion(tt.item))
		})
	}
}

func TestItemID(t *testing.T) {
	id, ok := itemID(idKey(18446744073709551615))
	assert.True(t, ok)
	assert.Equal(t, uint64(18446744073709551615), id)

	_, ok = itemID(map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "1"}})
	assert.False(t, ok, "string ids are rejected")
}

func TestWithVersion(t *testing.T) {
	item := withVersion(map[string]types.AttributeValue{}, 4)
	assert.Equal(t, int64(5), itemVersion(item))
}

func TestVersionCondition(t *testing.T) {
	absent, err := buildCondition(VersionCondition(0))
	require.NoError(t, err)
	assert.Contains(t, aws.ToString(absent.expr), "attribute_not_exists")
	assert.Empty(t, absent.vals)

	versioned, err := buildCondition(VersionCondition(3))
	require.NoError(t, err)
	require.Len(t, versioned.vals, 1)
	for _, v := range versioned.vals {
		assert.Equal(t, &types.AttributeValueMemberN{Value: "3"}, v)
	}
}

func TestRecordCondition(t *testing.T) {
	tests := []struct {
		name      string
		item      map[string]types.AttributeValue
		contains  []string
		wantValue string
	}{
		{"absent", nil, []string{"attribute_not_exists"}, ""},
		{
			"unversioned",
			map[string]types.AttributeValue{"id": &types.AttributeValueMemberN{Value: "1"}},
			[]string{"attribute_exists", "attribute_not_exists"},
			"",
		},
		{
			"versioned",
			map[string]types.AttributeValue{
				"id":      &types.AttributeValueMemberN{Value: "1"},
				"version": &types.AttributeValueMemberN{Value: "2"},
			},
			nil,
			"2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := buildCondition(recordCondition(tt.item))
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, aws.ToString(cond.expr), s)
			}
			if tt.wantValue == "" {
				assert.Empty(t, cond.vals)
				return
			}
			require.Len(t, cond.vals, 1)
			for _, v := range cond.vals {
				assert.Equal(t, &types.AttributeValueMemberN{Value: tt.wantValue}, v)
			}
		})
	}
}

// --- Error mapping Tests ---

func TestMapTransactError(t *testing.T) {
	other := errors.New("network down")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"passthrough", other, other},
		{
			"condition failed",
			&types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
				{Code: aws.String("None")},
				{Code: aws.String("ConditionalCheckFailed")},
			}},
			ErrConflict,
		},
		{
			"transaction conflict reason",
			&types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
				{Code: aws.String("TransactionConflict")},
			}},
			ErrConflict,
		},
		{"conflict exception", &types.TransactionConflictException{}, ErrConflict},
		{"in progress", &types.TransactionInProgressException{}, ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapTransactError(tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestErrors_Uniqueness(t *testing.T) {
	errs := []error{ErrConflict, ErrTxTimeout, ErrTxTooLarge, ErrTxClosed, ErrLockTimeout, ErrInvalidOptions}
	seen := make(map[string]bool)
	for _, err := range errs {
		msg := err.Error()
		assert.True(t, strings.HasPrefix(msg, "socialgraph: "), "message %q", msg)
		assert.False(t, seen[msg], "duplicate message %q", msg)
		seen[msg] = true
	}
}

// --- Overlay Tests ---

func TestOverlay(t *testing.T) {
	raw := map[string]int{"id": 1, "name": 2, "friends": 3, "nickname": 4}
	prev := map[string]int{"name": 2, "friends": 3}
	next := map[string]int{"name": 20}

	got := Overlay(raw, prev, next)

	assert.Equal(t, map[string]int{"id": 1, "name": 20, "nickname": 4}, got)
	assert.Equal(t, 2, raw["name"], "raw is left untouched")
}

func TestOverlay_NilRaw(t *testing.T) {
	got := Overlay[int](nil, nil, map[string]int{"a": 1})
	assert.Equal(t, map[string]int{"a": 1}, got)
}
