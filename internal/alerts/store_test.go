package alerts

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splitguard/internal/model"
)

func alertN(i int) model.Alert {
	return model.Alert{
		ID:        fmt.Sprintf("alert-%d", i),
		Timestamp: time.Date(2025, 6, 10, 12, 0, i, 0, time.UTC),
		Severity:  model.AlertMedium,
		UserID:    "user-1",
	}
}

func TestStoreRollsOldestOut(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Add(alertN(i))
	}

	assert.Equal(t, 3, s.Len())
	recent := s.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "alert-4", recent[0].ID)
	assert.Equal(t, "alert-2", recent[2].ID)

	_, err := s.Get("alert-0")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := s.Get("alert-4")
	require.NoError(t, err)
	assert.Equal(t, "alert-4", got.ID)
}

func TestAcknowledgeAndResolve(t *testing.T) {
	s := NewStore(10)
	s.Add(alertN(1))
	s.Add(alertN(2))

	require.NoError(t, s.Acknowledge("alert-1"))
	got, err := s.Get("alert-1")
	require.NoError(t, err)
	assert.True(t, got.Acknowledged)
	assert.False(t, got.Resolved)

	require.NoError(t, s.Resolve("alert-1"))
	got, _ = s.Get("alert-1")
	assert.True(t, got.Resolved)
	assert.True(t, got.Acknowledged)

	active := s.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "alert-2", active[0].ID)

	assert.ErrorIs(t, s.Acknowledge("missing"), ErrNotFound)
	assert.ErrorIs(t, s.Resolve("missing"), ErrNotFound)
}

func TestRecentLimit(t *testing.T) {
	s := NewStore(10)
	for i := 0; i < 6; i++ {
		s.Add(alertN(i))
	}
	recent := s.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "alert-5", recent[0].ID)
	assert.Equal(t, "alert-4", recent[1].ID)
}
