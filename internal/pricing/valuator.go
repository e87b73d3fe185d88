// Package pricing values staked positions in fiat. The valuation
// function is opaque to the view engine: any pure function of
// (pool metadata, staked balance) can be plugged in.
package pricing

import (
	"fmt"

	"cosmossdk.io/math"

	"gauge-staking-view/internal/decimals"
	"gauge-staking-view/internal/domain"
)

// Valuator computes the fiat value of a staked receipt-token balance
// for one pool. Implementations must be pure: identical inputs yield
// an identical value.
type Valuator func(pool domain.Pool, stakedBalance string) (math.LegacyDec, error)

// TVLProportional values a staked balance as its proportional share of
// the pool's total fiat liquidity:
//
//	fiat = totalLiquidity * stakedBalance / totalShares
func TVLProportional(pool domain.Pool, stakedBalance string) (math.LegacyDec, error) {
	staked, err := decimals.Parse(stakedBalance)
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("pool %s staked balance: %w", pool.ID, err)
	}
	if staked.IsZero() {
		return math.LegacyZeroDec(), nil
	}

	totalShares, err := decimals.Parse(pool.TotalShares)
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("pool %s total shares: %w", pool.ID, err)
	}
	if !totalShares.IsPositive() {
		return math.LegacyDec{}, fmt.Errorf("pool %s has no outstanding shares", pool.ID)
	}

	totalLiquidity, err := decimals.Parse(pool.TotalLiquidity)
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("pool %s total liquidity: %w", pool.ID, err)
	}

	return totalLiquidity.Mul(staked).Quo(totalShares), nil
}
