package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SweepsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := s.Increment(ctx, "a", now, time.Minute)
	require.NoError(t, err)
	_, err = s.Increment(ctx, "b", now.Add(50*time.Second), time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	_, found, err := s.Get(ctx, "b", now.Add(70*time.Second))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, s.Len(), "expired key a should be swept on read")
}

func TestMemoryStore_IncrementBelowLeavesEntryUntouchedAtCap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	ok, e, err := s.IncrementBelow(ctx, "k", 1, now, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, e.Attempts)

	ok, e, err = s.IncrementBelow(ctx, "k", 1, now.Add(10*time.Second), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, now.Add(time.Minute), e.ExpiresAt, "rejected attempt must not renew the window")
}
