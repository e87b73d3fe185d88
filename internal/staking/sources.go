// Package staking reconciles an account's staked liquidity-pool
// position from two independently-lagging sources: the indexed graph
// service (eventually consistent) and direct on-chain gauge reads
// (current but slower). The Aggregator owns the dependency chain
// between the sub-fetches and derives the caller-facing view.
package staking

import (
	"context"

	"gauge-staking-view/internal/domain"
)

// PoolMembershipSource resolves the pools an account holds any
// position in, staked or not. Root dependency of the fetch chain.
type PoolMembershipSource interface {
	// FetchUserPools returns the account's pool memberships in the
	// source's order.
	FetchUserPools(ctx context.Context, account string) ([]domain.PoolMembership, error)
}

// GaugeShareSource fetches the account's gauge shares together with
// the eligible gauges for the stakeable pool set, in one round trip
// against the indexed graph service.
type GaugeShareSource interface {
	// FetchGaugeShares returns both collections from a single query.
	// The account filter is applied lower-cased; only shares with a
	// balance strictly greater than zero are returned.
	FetchGaugeShares(ctx context.Context, account string, stakeablePoolIDs []string) (domain.GaugeSharesResult, error)
}

// PoolSource fetches pool metadata for an exact id set.
type PoolSource interface {
	// FetchPoolsByIDs returns metadata for the given pools. pageSize
	// caps one response page; callers that already know the finite id
	// set pass len(ids) so no pagination occurs.
	FetchPoolsByIDs(ctx context.Context, ids []string, pageSize int) ([]domain.Pool, error)
}

// GaugeBalanceSource reads one staked balance directly from the chain.
// Authoritative for (account, pool) at call time; never merged with
// graph-reported shares.
type GaugeBalanceSource interface {
	// FetchStakedBalance resolves the pool's gauge, reads the account's
	// balance from it, and returns a human-decimal string at the
	// gauge's fixed 18-decimal scale.
	FetchStakedBalance(ctx context.Context, account, poolAddress string) (string, error)
}
