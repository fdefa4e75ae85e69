package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors(t *testing.T) {
	assert.True(t, errors.Is(ErrCircuitOpen, ErrCircuitOpen))
	assert.True(t, errors.Is(ErrBackupFailed, ErrBackupFailed))
	assert.True(t, errors.Is(ErrTimeout, ErrTimeout))

	// Ensure errors are distinct
	assert.False(t, errors.Is(ErrEmergencyStop, ErrTimeout))
	assert.False(t, errors.Is(ErrApplicationNotFound, ErrServerNotFound))
	assert.False(t, errors.Is(ErrBackupFailed, ErrExecutionFailed))
}

func TestNotFoundFamily(t *testing.T) {
	for _, err := range []error{
		ErrApplicationNotFound, ErrServerNotFound, ErrPluginNotFound,
		ErrBackupNotFound, ErrActionNotFound,
	} {
		assert.True(t, IsNotFound(err), err.Error())
		assert.True(t, IsNotFound(fmt.Errorf("load app-1: %w", err)))
	}

	assert.False(t, IsNotFound(ErrTimeout))
	assert.False(t, IsNotFound(nil))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "circuit breaker is open", ErrCircuitOpen.Error())
	assert.Equal(t, "application not found", ErrApplicationNotFound.Error())
	assert.Equal(t, "emergency stop is active", ErrEmergencyStop.Error())
	assert.Equal(t, "operation timed out", ErrTimeout.Error())
}
