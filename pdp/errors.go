package pdp

import (
	"fmt"

	"github.com/liamstask/go-rtps-pdp/rtps"
)

// ErrorKind classifies the typed errors this package returns, mirroring the
// error kinds a PDP implementation must distinguish rather than a flat
// collection of exception types.
type ErrorKind int

const (
	KindPoolExhausted ErrorKind = iota
	KindParticipantNotFound
	KindDuplicateInit
	KindSerializationFailed
	KindEndpointCreateFailed
	KindInvalidConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case KindPoolExhausted:
		return "PoolExhausted"
	case KindParticipantNotFound:
		return "ParticipantNotFound"
	case KindDuplicateInit:
		return "DuplicateInit"
	case KindSerializationFailed:
		return "SerializationFailed"
	case KindEndpointCreateFailed:
		return "EndpointCreateFailed"
	case KindInvalidConfiguration:
		return "InvalidConfiguration"
	default:
		return "Unknown"
	}
}

// PoolExhaustedError is returned when a ProxyPool has reached its configured
// allocation ceiling and its free-list is empty.
type PoolExhaustedError struct {
	Resource string // "participant", "reader", or "writer"
	Max      int
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("proxy pool exhausted for %s proxies (max %d)", e.Resource, e.Max)
}

func (e *PoolExhaustedError) Kind() ErrorKind { return KindPoolExhausted }

// ParticipantNotFoundError is returned when an operation references a
// participant GUID prefix that has no ParticipantProxy in the engine's table.
type ParticipantNotFoundError struct {
	Prefix rtps.GUIDPrefix
}

func (e *ParticipantNotFoundError) Error() string {
	return fmt.Sprintf("participant %s not found", e.Prefix.String())
}

func (e *ParticipantNotFoundError) Kind() ErrorKind { return KindParticipantNotFound }

// DuplicateInitError is returned when PDPEngine.Init is called more than once.
type DuplicateInitError struct{}

func (e *DuplicateInitError) Error() string {
	return "PDPEngine already initialized"
}

func (e *DuplicateInitError) Kind() ErrorKind { return KindDuplicateInit }

// SerializationFailedError wraps a failure to encode a ParticipantProxyData
// into its wire representation during announcement.
type SerializationFailedError struct {
	Cause error
}

func (e *SerializationFailedError) Error() string {
	return fmt.Sprintf("participant proxy data serialization failed: %v", e.Cause)
}

func (e *SerializationFailedError) Unwrap() error {
	return e.Cause
}

func (e *SerializationFailedError) Kind() ErrorKind { return KindSerializationFailed }

// EndpointCreateFailedError is returned when the builtin reader/writer pair
// cannot be constructed during Init.
type EndpointCreateFailedError struct {
	Cause error
}

func (e *EndpointCreateFailedError) Error() string {
	return fmt.Sprintf("failed to create PDP builtin endpoints: %v", e.Cause)
}

func (e *EndpointCreateFailedError) Unwrap() error {
	return e.Cause
}

func (e *EndpointCreateFailedError) Kind() ErrorKind { return KindEndpointCreateFailed }

// InvalidConfigurationError flags a non-fatal configuration problem that was
// coerced to a usable value (e.g. a non-positive initial announcement period).
type InvalidConfigurationError struct {
	Field  string
	Value  any
	Coerce any
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %v (coerced to %v)", e.Field, e.Value, e.Coerce)
}

func (e *InvalidConfigurationError) Kind() ErrorKind { return KindInvalidConfiguration }
