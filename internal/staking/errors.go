package staking

import "errors"

// Configuration errors fail synchronously, before any fetch state
// transition; transport failures instead settle the owning fetch with
// the error attached.
var (
	// ErrPoolNotConfigured is returned when the direct on-chain share
	// read is invoked while no pool address is configured.
	ErrPoolNotConfigured = errors.New("no pool address configured for direct share read")

	// ErrAccountNotConfigured is returned when a read requiring the
	// session account runs while no account is set.
	ErrAccountNotConfigured = errors.New("no account configured")

	// ErrSourceDisabled is returned by manual refetches against a
	// source that is disabled for the current session, for example the
	// gauge query on a network without staking.
	ErrSourceDisabled = errors.New("source is disabled for the current session")

	// ErrSuperseded is returned by awaited refetches whose result was
	// discarded because the fetch key changed while the read was in
	// flight.
	ErrSuperseded = errors.New("refetch superseded by a key change")

	// ErrClosed is returned when operating on a closed aggregator.
	ErrClosed = errors.New("aggregator is closed")
)
