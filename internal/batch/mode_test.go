package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModeClearsOnLastCompletion(t *testing.T) {
	m := NewMode()
	assert.False(t, m.Active())

	m.enter()
	m.add()
	m.add()
	m.settle()
	assert.True(t, m.Active(), "flag stays up while dispatches are outstanding")

	m.done()
	assert.True(t, m.Active())

	m.done()
	assert.False(t, m.Active(), "last completion clears the flag")
}

func TestModeHoldsThroughEarlyCompletion(t *testing.T) {
	m := NewMode()

	// First stream finishes before the fan-out loop reaches the next target;
	// outstanding transiently hits zero but the run has not settled yet.
	m.enter()
	m.add()
	m.done()
	assert.True(t, m.Active(), "flag must not dip while the fan-out loop is still running")

	m.add()
	m.settle()
	assert.True(t, m.Active(), "a stream dispatched after the early completion is still outstanding")

	m.done()
	assert.False(t, m.Active())
}

func TestModeSettlesWhenAllStreamsBeatTheLoop(t *testing.T) {
	m := NewMode()

	m.enter()
	m.add()
	m.done()
	m.settle()
	assert.False(t, m.Active(), "settle clears the flag when every stream already finished")
}

func TestModeSettlesWhenNothingDispatched(t *testing.T) {
	m := NewMode()

	m.enter()
	m.settle()
	assert.False(t, m.Active(), "an all-skipped apply must not leave the flag up")
}

func TestModeForceExit(t *testing.T) {
	m := NewMode()

	m.enter()
	m.add()
	m.ForceExit()
	assert.False(t, m.Active())

	// A late completion callback no-ops instead of corrupting state.
	m.done()
	assert.False(t, m.Active())

	m.enter()
	m.add()
	assert.True(t, m.Active())
}
