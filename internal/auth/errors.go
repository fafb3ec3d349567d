package auth

import "errors"

var (
	// ErrInvalidCredentials is a definitive rejection from an identity
	// source; no other server should be tried for the same attempt.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrConnectivity is a transient per-server failure; a failover
	// loop should continue with the next server.
	ErrConnectivity = errors.New("could not contact identity server")

	// ErrNotFound means no matching user or group exists. It is a
	// negative result, not a fault.
	ErrNotFound = errors.New("not found in identity source")

	// ErrConfiguration means a backend setting is malformed or missing.
	// The affected feature is skipped rather than crashing the attempt.
	ErrConfiguration = errors.New("backend misconfigured")

	// ErrProtocol is an unexpected directory response; callers treat it
	// the same as ErrConnectivity.
	ErrProtocol = errors.New("unexpected directory response")

	// ErrNotSupported is returned by capability operations a backend
	// does not implement.
	ErrNotSupported = errors.New("operation not supported by this backend")

	// Registry errors
	ErrAlreadyRegistered = errors.New("backend id already registered")
	ErrNotRegistered     = errors.New("backend id not registered")
)
