package staking

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"gauge-staking-view/internal/domain"
)

// FilterStakeable intersects the account's pool memberships with the
// static allow-list of stakeable pools. Order and duplicates on either
// side are insignificant; the result is sorted so downstream fetch
// keys are deterministic.
func FilterStakeable(membershipPoolIDs, allowList []string) []string {
	members := mapset.NewThreadUnsafeSet(membershipPoolIDs...)
	allowed := mapset.NewThreadUnsafeSet(allowList...)

	eligible := members.Intersect(allowed).ToSlice()
	sort.Strings(eligible)
	return eligible
}

// BuildStakedShareMap derives the poolId -> balance map from a gauge
// share list: one entry per share, balance strings copied verbatim.
// The indexer reports at most one share per pool; should a duplicate
// ever appear, the last entry wins.
func BuildStakedShareMap(shares []domain.GaugeShare) map[string]string {
	m := make(map[string]string, len(shares))
	for _, s := range shares {
		m[s.PoolID] = s.Balance
	}
	return m
}

// StakedPoolIDs returns the sorted distinct pool ids carrying a
// nonzero gauge share.
func StakedPoolIDs(shares []domain.GaugeShare) []string {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, s := range shares {
		set.Add(s.PoolID)
	}
	ids := set.ToSlice()
	sort.Strings(ids)
	return ids
}

// EligibleGaugePoolIDs returns the sorted distinct pool ids that have
// a deployed gauge, independent of the account's current balance.
func EligibleGaugePoolIDs(gauges []domain.LiquidityGauge) []string {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, g := range gauges {
		set.Add(g.PoolID)
	}
	ids := set.ToSlice()
	sort.Strings(ids)
	return ids
}
