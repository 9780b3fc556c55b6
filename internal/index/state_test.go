package index

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBStateStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	states := NewDBStateStore(st.DB)

	// Given: a saved state
	want := State{
		AttachmentID:   "doc",
		Status:         StatusFailed,
		TextIndexed:    true,
		TextChunkCount: 4,
		LastIndexedAt:  time.Now().UTC().Truncate(time.Second),
		LastDuration:   1500 * time.Millisecond,
		LastError:      "vision sidecar down",
		JobID:          "job",
	}
	require.NoError(t, states.SaveState(ctx, want))

	// When: overwriting and loading
	want.TextChunkCount = 5
	require.NoError(t, states.SaveState(ctx, want))
	loaded, err := states.LoadStates(ctx)
	require.NoError(t, err)

	// Then: the latest version is returned
	require.Len(t, loaded, 1)
	assert.Equal(t, want.TextChunkCount, loaded[0].TextChunkCount)
	assert.Equal(t, want.LastError, loaded[0].LastError)
	assert.True(t, want.LastIndexedAt.Equal(loaded[0].LastIndexedAt))
	assert.Equal(t, want.LastDuration, loaded[0].LastDuration)

	// When: deleting
	require.NoError(t, states.DeleteState(ctx, "doc"))
	loaded, err = states.LoadStates(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestDBStateStore_SkipsUndecodable(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.DB.PutIndexingState(ctx, "bad", "{not json"))
	require.NoError(t, st.DB.PutIndexingState(ctx, "good", `{"status":"indexed"}`))

	loaded, err := NewDBStateStore(st.DB).LoadStates(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "good", loaded[0].AttachmentID)
	assert.Equal(t, StatusIndexed, loaded[0].Status)
}
