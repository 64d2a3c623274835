package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunHistory(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	r, err := l.LastSuccessfulRun(ctx)
	require.NoError(t, err)
	require.Nil(t, r, "empty history")

	runs := []RunRecord{
		{ID: "r1", Mode: "initial", StartedAt: base, FinishedAt: base.Add(time.Second), TotalRecords: 3, Success: true,
			Results: json.RawMessage(`[{"entityType":"intervention","count":3}]`)},
		{ID: "r2", Mode: "full", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Second), Success: false},
	}
	for _, r := range runs {
		require.NoError(t, l.InsertRun(ctx, r))
	}

	list, err := l.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r2", list[0].ID)
	assert.Equal(t, "[]", string(list[0].Results), "empty results")

	last, err := l.LastSuccessfulRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "r1", last.ID)
	assert.True(t, last.FinishedAt.Equal(base.Add(time.Second)))

	got, _ := l.GetRun(ctx, "r1")
	require.NotNil(t, got)
	assert.EqualValues(t, 3, got.TotalRecords)
	assert.Equal(t, "initial", got.Mode)

	missing, _ := l.GetRun(ctx, "nope")
	assert.Nil(t, missing)
}
