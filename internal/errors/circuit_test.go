package errors

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker that trips after 2 failures
	cb := NewCircuitBreaker("ollama", WithMaxFailures(2), WithResetTimeout(time.Minute))
	fail := func() error { return BackendUnavailable("refused", nil) }

	// When: two backend failures happen
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)

	// Then: the circuit is open and fails fast
	assert.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, stderrors.Is(err, ErrBackendUnavailable))
}

func TestCircuitBreaker_CallerErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("ollama", WithMaxFailures(1))

	err := cb.Execute(func() error { return ValidationError("empty input", nil) })

	require.Error(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	// Given: an open breaker whose reset timeout has elapsed
	now := time.Now()
	clock := func() time.Time { return now }
	cb := NewCircuitBreaker("vision", WithMaxFailures(1), WithResetTimeout(time.Second), withClock(clock))
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	// When: the half-open trial call succeeds
	v, err := CircuitExecute(cb, func() (int, error) { return 7, nil })

	// Then: the breaker closes again
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker("vision", WithMaxFailures(3), WithResetTimeout(time.Second),
		withClock(func() time.Time { return now }))
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	now = now.Add(2 * time.Second)
	require.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(func() error { return IndexingTimeout("slow", nil) })

	assert.Equal(t, StateOpen, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
