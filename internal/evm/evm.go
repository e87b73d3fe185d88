// Package evm binds the two on-chain view calls the staking view
// needs: resolving a pool's gauge contract through the gauge factory
// and reading an account's raw staked balance from the gauge. RPC
// transport is supplied by the caller as an ethereum.ContractCaller
// (ethclient.Client satisfies it).
package evm

import "errors"

// ErrNoGauge is returned when the factory reports no deployed gauge
// for a pool (zero address).
var ErrNoGauge = errors.New("no gauge deployed for pool")
