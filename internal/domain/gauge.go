package domain

// GaugeShare represents one account's staked balance in a single
// liquidity gauge, as reported by the indexed graph service.
// Absence of an entry means a zero balance; the share list is replaced
// wholesale on every fetch, never merged.
type GaugeShare struct {
	ID      string // share identifier (gauge address + account)
	PoolID  string // pool whose receipt token the gauge stakes
	Balance string // non-negative decimal string, as reported by the graph
}

// GaugeShareBalance is the balance element nested under a gauge entry.
type GaugeShareBalance struct {
	Balance string
}

// LiquidityGauge represents a gauge eligible for staking for one pool.
// A gauge may exist with zero shares; its presence alone marks the pool
// as stakeable within the account's current scope.
type LiquidityGauge struct {
	ID     string // gauge contract address (empty in older schema rows)
	PoolID string // pool the gauge belongs to
	Shares []GaugeShareBalance
}

// GaugeSharesResult is the combined payload of the single gauge-share
// graph query: the account's nonzero shares plus the eligible gauges
// for the stakeable pool set, fetched in one round trip.
type GaugeSharesResult struct {
	Shares []GaugeShare
	Gauges []LiquidityGauge
}
