package domain

import "errors"

var (
	// ErrNotFound is the parent of every lookup failure
	ErrNotFound = errors.New("not found")

	// ErrApplicationNotFound is returned when an application ID is unknown
	ErrApplicationNotFound = notFound("application not found")

	// ErrServerNotFound is returned when an application's server is unknown
	ErrServerNotFound = notFound("server not found")

	// ErrPluginNotFound is returned when no plugin is registered for a tech stack
	ErrPluginNotFound = notFound("no plugin registered for tech stack")

	// ErrBackupNotFound is returned when a backup ID is unknown
	ErrBackupNotFound = notFound("backup not found")

	// ErrActionNotFound is returned when a plugin offers no action with the given name
	ErrActionNotFound = notFound("healing action not found")

	// ErrBackupFailed is returned when a required backup could not be created
	ErrBackupFailed = errors.New("backup failed")

	// ErrBackupInvalid is returned when a backup artifact fails validation
	ErrBackupInvalid = errors.New("backup artifact is invalid")

	// ErrExecutionFailed is returned when a healing command ran but failed
	ErrExecutionFailed = errors.New("healing execution failed")

	// ErrTimeout is returned when an operation exceeds its timeout
	ErrTimeout = errors.New("operation timed out")

	// ErrCircuitOpen is returned when the circuit breaker refuses healing
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrEmergencyStop is returned when the emergency stop is active
	ErrEmergencyStop = errors.New("emergency stop is active")

	// ErrApplicationBusy is returned when a healing run for the application is already in progress
	ErrApplicationBusy = errors.New("application is already being healed")

	// ErrTransport is returned for connection-level executor faults
	ErrTransport = errors.New("remote transport failure")
)

type notFoundError struct {
	msg string
}

func notFound(msg string) error { return &notFoundError{msg: msg} }

func (e *notFoundError) Error() string { return e.msg }

func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }

// IsNotFound reports whether err is any of the not-found errors
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
