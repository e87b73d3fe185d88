package domain

import "cosmossdk.io/math"

// Pool represents pool metadata as returned by the indexed graph
// service's batched pool query.
type Pool struct {
	ID             string   // pool identifier (address plus specialization suffix)
	Address        string   // pool contract address
	PoolType       string   // e.g. "Weighted", "Stable"
	TokensList     []string // token addresses in pool order
	TotalShares    string   // total receipt-token supply, decimal string
	TotalLiquidity string   // pool-wide fiat liquidity, decimal string
}

// StakedPool is a Pool decorated with the account's staked position.
// BPT is the staked receipt-token balance copied from the staked share
// map; Shares is the fiat value of that balance per the valuation
// function.
type StakedPool struct {
	Pool
	BPT    string
	Shares math.LegacyDec
}
