package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var decodeNow = time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)

const expenseJSON = `{
	"expense_id": "exp-1",
	"group_id": "group-1",
	"payer_id": "user-1",
	"participants": [
		{"user_id": "user-1", "amount": 25.5},
		{"user_id": "user-2", "amount": 25.5}
	],
	"amount": 51.0,
	"currency": "EUR",
	"merchant": "Corner Bistro",
	"category": "dining",
	"timestamp": "2025-06-10T12:00:00Z"
}`

func TestDecodeExpense(t *testing.T) {
	ev, err := DecodeExpense([]byte(expenseJSON), decodeNow)
	require.NoError(t, err)

	assert.Equal(t, "exp-1", ev.ID)
	assert.Equal(t, "group-1", ev.GroupID)
	assert.Equal(t, "user-1", ev.PayerID)
	require.Len(t, ev.Participants, 2)
	assert.Equal(t, "user-2", ev.Participants[1].UserID)
	assert.InDelta(t, 51.0, ev.Amount, 1e-9)
	assert.Equal(t, "EUR", ev.Currency)
	assert.Equal(t, time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC), ev.Timestamp)
}

func TestDecodeExpenseFillsDefaults(t *testing.T) {
	ev, err := DecodeExpense([]byte(`{"expense_id": "exp-2", "payer_id": "user-1", "group_id": "group-1", "amount": 10}`), decodeNow)
	require.NoError(t, err)

	assert.Equal(t, decodeNow, ev.Timestamp)
	assert.Equal(t, "USD", ev.Currency)
}

func TestDecodeExpenseMalformed(t *testing.T) {
	_, err := DecodeExpense([]byte(`{"expense_id": `), decodeNow)
	assert.Error(t, err)
}

func TestDecodeExpenseBatchArray(t *testing.T) {
	data := []byte(`  [` + expenseJSON + `, {"expense_id": "exp-2", "amount": 5}]` + "\n")

	events, err := DecodeExpenseBatch(data, decodeNow)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "exp-1", events[0].ID)
	assert.Equal(t, "exp-2", events[1].ID)
	assert.Equal(t, decodeNow, events[1].Timestamp)
	assert.Equal(t, "USD", events[1].Currency)
}

func TestDecodeExpenseBatchSingleObject(t *testing.T) {
	events, err := DecodeExpenseBatch([]byte(expenseJSON), decodeNow)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "exp-1", events[0].ID)
}

func TestDecodeExpenseBatchMalformed(t *testing.T) {
	_, err := DecodeExpenseBatch([]byte(`[{"expense_id"`), decodeNow)
	assert.Error(t, err)
}
