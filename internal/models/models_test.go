package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoveryStatus_Index(t *testing.T) {
	assert.Equal(t, 0, StatusPending.Index())
	assert.Equal(t, 2, StatusInProgress.Index())
	assert.Equal(t, 4, StatusClosed.Index())
	assert.Equal(t, -1, RecoveryStatus("archived").Index())
	assert.False(t, RecoveryStatus("").IsValid())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to RecoveryStatus
		want     bool
	}{
		{StatusPending, StatusInvestigating, true},
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusClosed, true},
		{StatusCompleted, StatusClosed, true},
		{StatusInProgress, StatusInProgress, true},
		{StatusInProgress, StatusPending, false},
		{StatusClosed, StatusPending, false},
		{StatusClosed, StatusClosed, true},
		{StatusPending, RecoveryStatus("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestProgressUpdates_Scan(t *testing.T) {
	var p ProgressUpdates
	require.NoError(t, p.Scan([]byte(`[{"status":"pending","message":"Submitted","timestamp":"2026-10-01T10:00:00Z"}]`)))
	require.Len(t, p, 1)
	assert.Equal(t, StatusPending, p[0].Status)

	last, ok := p.Last()
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC), last.Timestamp.UTC())

	var empty ProgressUpdates
	require.NoError(t, empty.Scan(nil))
	_, ok = empty.Last()
	assert.False(t, ok)

	v, err := empty.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	assert.Error(t, p.Scan(42))
}

func TestRecoveryRequest_HasPayloadFor(t *testing.T) {
	wallet := "bc1qexample"
	r := RecoveryRequest{RecoveryType: RecoveryTypeCrypto, WalletAddress: &wallet}
	assert.True(t, r.HasPayloadFor())

	r.BankDetails = &BankDetails{BankName: "x"}
	assert.False(t, r.HasPayloadFor())

	r = RecoveryRequest{RecoveryType: RecoveryType("wire")}
	assert.False(t, r.HasPayloadFor())
}
