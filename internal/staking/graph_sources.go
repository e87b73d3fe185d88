package staking

import (
	"context"
	"fmt"
	"strings"

	"gauge-staking-view/internal/domain"
	"gauge-staking-view/internal/graph"
)

// Graph operation names. They double as scripting keys for the stub
// client in tests.
const (
	OpUserPools   = "UserPools"
	OpGaugeShares = "GaugeShares"
	OpStakedPools = "StakedPools"
)

// Query documents. The gauge query deliberately bundles shares and
// gauges so both collections arrive from one consistent round trip.
const (
	userPoolsQuery = `query UserPools($user: String!) {
  poolShares(where: {userAddress: $user, balance_gt: "0"}, first: 1000) {
    poolId { id }
    balance
  }
}`

	gaugeSharesQuery = `query GaugeShares($user: String!, $poolIds: [String!]!) {
  gaugeShares(where: {user: $user, balance_gt: "0"}, first: 1000) {
    id
    balance
    gauge { poolId }
  }
  liquidityGauges(where: {poolId_in: $poolIds}, first: 1000) {
    id
    poolId
    shares(where: {balance_gt: "0"}) { balance }
  }
}`

	stakedPoolsQuery = `query StakedPools($ids: [String!]!, $pageSize: Int!) {
  pools(where: {id_in: $ids}, first: $pageSize) {
    id
    address
    poolType
    tokensList
    totalShares
    totalLiquidity
  }
}`
)

// GraphMembershipSource implements PoolMembershipSource against the
// indexed graph service.
type GraphMembershipSource struct {
	graph graph.Client
}

// NewGraphMembershipSource creates a membership source over a graph client.
func NewGraphMembershipSource(client graph.Client) *GraphMembershipSource {
	return &GraphMembershipSource{graph: client}
}

// FetchUserPools queries the account's pool shares. The account filter
// is lower-cased to match the indexer's address normalization.
func (s *GraphMembershipSource) FetchUserPools(ctx context.Context, account string) ([]domain.PoolMembership, error) {
	account = strings.ToLower(account)

	var payload struct {
		PoolShares []struct {
			PoolID struct {
				ID string `json:"id"`
			} `json:"poolId"`
			Balance string `json:"balance"`
		} `json:"poolShares"`
	}

	query := graph.Query{
		OperationName: OpUserPools,
		Query:         userPoolsQuery,
		Variables:     map[string]any{"user": account},
	}
	if err := s.graph.Execute(ctx, membershipKey(account), query, &payload); err != nil {
		return nil, fmt.Errorf("fetch user pools: %w", err)
	}

	memberships := make([]domain.PoolMembership, 0, len(payload.PoolShares))
	for _, ps := range payload.PoolShares {
		memberships = append(memberships, domain.PoolMembership{
			PoolID:  ps.PoolID.ID,
			Balance: ps.Balance,
		})
	}
	return memberships, nil
}

// GraphGaugeShareSource implements GaugeShareSource against the
// indexed graph service.
type GraphGaugeShareSource struct {
	graph graph.Client
}

// NewGraphGaugeShareSource creates a gauge share source over a graph client.
func NewGraphGaugeShareSource(client graph.Client) *GraphGaugeShareSource {
	return &GraphGaugeShareSource{graph: client}
}

// FetchGaugeShares runs the combined gauge query: the account's
// nonzero shares plus the eligible gauges for the stakeable pool set.
func (s *GraphGaugeShareSource) FetchGaugeShares(ctx context.Context, account string, stakeablePoolIDs []string) (domain.GaugeSharesResult, error) {
	account = strings.ToLower(account)
	if stakeablePoolIDs == nil {
		stakeablePoolIDs = []string{}
	}

	var payload struct {
		GaugeShares []struct {
			ID      string `json:"id"`
			Balance string `json:"balance"`
			Gauge   struct {
				PoolID string `json:"poolId"`
			} `json:"gauge"`
		} `json:"gaugeShares"`
		LiquidityGauges []struct {
			ID     string `json:"id"`
			PoolID string `json:"poolId"`
			Shares []struct {
				Balance string `json:"balance"`
			} `json:"shares"`
		} `json:"liquidityGauges"`
	}

	query := graph.Query{
		OperationName: OpGaugeShares,
		Query:         gaugeSharesQuery,
		Variables: map[string]any{
			"user":    account,
			"poolIds": stakeablePoolIDs,
		},
	}
	if err := s.graph.Execute(ctx, gaugeSharesKey(account, stakeablePoolIDs), query, &payload); err != nil {
		return domain.GaugeSharesResult{}, fmt.Errorf("fetch gauge shares: %w", err)
	}

	result := domain.GaugeSharesResult{
		Shares: make([]domain.GaugeShare, 0, len(payload.GaugeShares)),
		Gauges: make([]domain.LiquidityGauge, 0, len(payload.LiquidityGauges)),
	}
	for _, gs := range payload.GaugeShares {
		result.Shares = append(result.Shares, domain.GaugeShare{
			ID:      gs.ID,
			PoolID:  gs.Gauge.PoolID,
			Balance: gs.Balance,
		})
	}
	for _, lg := range payload.LiquidityGauges {
		gauge := domain.LiquidityGauge{
			ID:     lg.ID,
			PoolID: lg.PoolID,
			Shares: make([]domain.GaugeShareBalance, 0, len(lg.Shares)),
		}
		for _, sh := range lg.Shares {
			gauge.Shares = append(gauge.Shares, domain.GaugeShareBalance{Balance: sh.Balance})
		}
		result.Gauges = append(result.Gauges, gauge)
	}
	return result, nil
}

// GraphPoolSource implements PoolSource against the indexed graph
// service.
type GraphPoolSource struct {
	graph graph.Client
}

// NewGraphPoolSource creates a pool metadata source over a graph client.
func NewGraphPoolSource(client graph.Client) *GraphPoolSource {
	return &GraphPoolSource{graph: client}
}

// FetchPoolsByIDs runs one batched metadata query for exactly the
// given pools. A pageSize of zero or less defaults to len(ids), which
// fits the whole set in a single page.
func (s *GraphPoolSource) FetchPoolsByIDs(ctx context.Context, ids []string, pageSize int) ([]domain.Pool, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if pageSize <= 0 {
		pageSize = len(ids)
	}

	var payload struct {
		Pools []struct {
			ID             string   `json:"id"`
			Address        string   `json:"address"`
			PoolType       string   `json:"poolType"`
			TokensList     []string `json:"tokensList"`
			TotalShares    string   `json:"totalShares"`
			TotalLiquidity string   `json:"totalLiquidity"`
		} `json:"pools"`
	}

	query := graph.Query{
		OperationName: OpStakedPools,
		Query:         stakedPoolsQuery,
		Variables: map[string]any{
			"ids":      ids,
			"pageSize": pageSize,
		},
	}
	if err := s.graph.Execute(ctx, stakedPoolsKey(ids), query, &payload); err != nil {
		return nil, fmt.Errorf("fetch pools by ids: %w", err)
	}

	pools := make([]domain.Pool, 0, len(payload.Pools))
	for _, p := range payload.Pools {
		pools = append(pools, domain.Pool{
			ID:             p.ID,
			Address:        p.Address,
			PoolType:       p.PoolType,
			TokensList:     p.TokensList,
			TotalShares:    p.TotalShares,
			TotalLiquidity: p.TotalLiquidity,
		})
	}
	return pools, nil
}

// Fetch keys. They serve both as cell identities in the aggregator and
// as transport coalescing keys, so one composition rule covers both.
func membershipKey(account string) string {
	return "membership|" + account
}

func gaugeSharesKey(account string, stakeablePoolIDs []string) string {
	return "gauge-shares|" + account + "|" + strings.Join(stakeablePoolIDs, ",")
}

func stakedPoolsKey(ids []string) string {
	return "staked-pools|" + strings.Join(ids, ",")
}

func directShareKey(account, poolAddress string) string {
	return "direct-share|" + account + "|" + poolAddress
}
