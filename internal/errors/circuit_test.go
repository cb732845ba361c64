package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("bleve", WithMaxFailures(2), WithResetTimeout(time.Hour))
	failing := func() error { return StoreUnavailable("down", nil) }

	assert.Error(t, cb.Execute(failing))
	assert.Equal(t, StateClosed, cb.State())
	assert.Error(t, cb.Execute(failing))
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_IgnoresNonRetryableErrors(t *testing.T) {
	cb := NewCircuitBreaker("bleve", WithMaxFailures(1))

	err := cb.Execute(func() error { return errors.New("document rejected") })

	assert.Error(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker("bleve", WithMaxFailures(1), WithResetTimeout(10*time.Millisecond))
	_ = cb.Execute(func() error { return StoreUnavailable("down", nil) })
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())

	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
