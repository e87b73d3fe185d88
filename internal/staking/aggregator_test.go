package staking

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gauge-staking-view/internal/domain"
	"gauge-staking-view/internal/pricing"
	"gauge-staking-view/internal/staking/stub"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testConfig wires an aggregator against fully scripted sources:
// account 0xabc holds pools A and B, pool A is allow-listed and has a
// 150.0 staked balance, and the direct read returns 42.5.
func testConfig() (Config, *stub.MembershipSource, *stub.GaugeShareSource, *stub.PoolSource, *stub.BalanceSource) {
	memberships := stub.NewMembershipSource(
		domain.PoolMembership{PoolID: "poolA", Balance: "10"},
		domain.PoolMembership{PoolID: "poolB", Balance: "20"},
	)
	gauges := stub.NewGaugeShareSource(domain.GaugeSharesResult{
		Shares: []domain.GaugeShare{{ID: "share1", PoolID: "poolA", Balance: "150.0"}},
		Gauges: []domain.LiquidityGauge{{ID: "gauge1", PoolID: "poolA"}},
	})
	pools := stub.NewPoolSource(domain.Pool{
		ID:             "poolA",
		Address:        "0xaaa",
		PoolType:       "Weighted",
		TotalShares:    "1000",
		TotalLiquidity: "5000",
	})
	balances := stub.NewBalanceSource("42.5")

	cfg := Config{
		Session:            domain.Session{Account: "0xAbC", Network: domain.NetworkMainnet},
		StakeableAllowList: []string{"poolA", "poolC"},
		ProvidedPool:       "0xPool1",
		Memberships:        memberships,
		GaugeShares:        gauges,
		Pools:              pools,
		DirectShares:       balances,
		Valuate:            pricing.TVLProportional,
	}
	return cfg, memberships, gauges, pools, balances
}

func startAggregator(t *testing.T, cfg Config) *Aggregator {
	t.Helper()
	agg, err := NewAggregator(cfg)
	require.NoError(t, err)
	require.NoError(t, agg.Start(context.Background()))
	t.Cleanup(func() { agg.Close() })
	return agg
}

func TestNewAggregator_Validation(t *testing.T) {
	cfg, _, _, _, _ := testConfig()
	cfg.Memberships = nil
	if _, err := NewAggregator(cfg); err == nil {
		t.Error("NewAggregator() without membership source did not fail")
	}

	cfg, _, _, _, _ = testConfig()
	cfg.Valuate = nil
	if _, err := NewAggregator(cfg); err == nil {
		t.Error("NewAggregator() without valuator did not fail")
	}
}

func TestAggregator_HappyPathCascade(t *testing.T) {
	cfg, memberships, gauges, pools, _ := testConfig()
	agg := startAggregator(t, cfg)
	require.NoError(t, agg.Settle(context.Background()))

	// The membership fetch ran once for the lower-cased account.
	require.Equal(t, []string{"0xabc"}, memberships.Calls())

	// The gauge fetch saw only the stakeable intersection of the
	// account's pools and the allow list.
	gaugeCalls := gauges.Calls()
	require.Len(t, gaugeCalls, 1)
	assert.Equal(t, "0xabc", gaugeCalls[0].Account)
	assert.Equal(t, []string{"poolA"}, gaugeCalls[0].StakeablePoolIDs)

	// Enrichment queried exactly the staked set, in one page.
	poolCalls := pools.Calls()
	require.Len(t, poolCalls, 1)
	assert.Equal(t, []string{"poolA"}, poolCalls[0].IDs)
	assert.Equal(t, 1, poolCalls[0].PageSize)

	sharesMap, err := agg.StakedSharesMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"poolA": "150.0"}, sharesMap)

	stakedIDs, err := agg.StakedPoolIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"poolA"}, stakedIDs)

	eligible, err := agg.EligibleGaugePoolIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"poolA"}, eligible)

	staked, err := agg.StakedPools()
	require.NoError(t, err)
	require.Len(t, staked, 1)
	assert.Equal(t, "poolA", staked[0].ID)
	assert.Equal(t, "150.0", staked[0].BPT)
	// 5000 liquidity * 150 staked / 1000 total shares
	assert.True(t, staked[0].Shares.Equal(math.LegacyNewDec(750)),
		"Shares = %s, want 750", staked[0].Shares)

	total, err := agg.TotalStakedFiatValue()
	require.NoError(t, err)
	assert.True(t, total.Equal(math.LegacyNewDec(750)), "total = %s, want 750", total)

	balance, err := agg.StakedSharesForProvidedPool()
	require.NoError(t, err)
	assert.Equal(t, "42.5", balance)

	view, err := agg.View()
	require.NoError(t, err)
	assert.Equal(t, "750", view.TotalStakedFiatValue)
	assert.Equal(t, "42.5", view.ProvidedPoolShares)
	assert.Equal(t, "settled", view.Membership.Status)
	assert.Equal(t, "settled", view.GaugeShares.Status)
	assert.Equal(t, "settled", view.Pools.Status)
	assert.Equal(t, "settled", view.DirectShare.Status)
}

func TestAggregator_TwoPoolsSortedAndSummed(t *testing.T) {
	cfg, _, gauges, _, _ := testConfig()
	cfg.StakeableAllowList = []string{"poolA", "poolB"}
	// Shares arrive in reverse ID order; derived values must not care.
	gauges.SetResult(domain.GaugeSharesResult{
		Shares: []domain.GaugeShare{
			{ID: "share2", PoolID: "poolB", Balance: "300.0"},
			{ID: "share1", PoolID: "poolA", Balance: "150.0"},
		},
	})
	cfg.Pools = stub.NewPoolSource(
		domain.Pool{ID: "poolB", TotalShares: "1000", TotalLiquidity: "2000"},
		domain.Pool{ID: "poolA", TotalShares: "1000", TotalLiquidity: "5000"},
	)

	agg := startAggregator(t, cfg)
	require.NoError(t, agg.Settle(context.Background()))

	staked, err := agg.StakedPools()
	require.NoError(t, err)
	require.Len(t, staked, 2)
	assert.Equal(t, "poolA", staked[0].ID)
	assert.Equal(t, "poolB", staked[1].ID)

	// 750 from poolA plus 600 from poolB.
	total, err := agg.TotalStakedFiatValue()
	require.NoError(t, err)
	assert.True(t, total.Equal(math.LegacyNewDec(1350)), "total = %s, want 1350", total)
}

func TestAggregator_GaugeLoadingKeepsDerivedEmpty(t *testing.T) {
	cfg, _, gauges, pools, _ := testConfig()
	gate := gauges.Gate()
	agg := startAggregator(t, cfg)

	require.Eventually(t, func() bool {
		return agg.GaugeSharesFlags().Loading
	}, time.Second, 5*time.Millisecond, "gauge fetch never entered loading")

	sharesMap, err := agg.StakedSharesMap()
	require.NoError(t, err)
	assert.Empty(t, sharesMap)

	stakedIDs, err := agg.StakedPoolIDs()
	require.NoError(t, err)
	assert.Empty(t, stakedIDs)

	// Enrichment stays idle until the gauge fetch settles with a
	// nonzero staked set.
	assert.True(t, agg.StakedPoolsFlags().Idle)
	assert.Empty(t, pools.Calls())

	close(gate)
	require.NoError(t, agg.Settle(context.Background()))

	sharesMap, err = agg.StakedSharesMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"poolA": "150.0"}, sharesMap)
}

func TestAggregator_NetworkWithoutStakingStaysIdle(t *testing.T) {
	cfg, _, gauges, _, _ := testConfig()
	cfg.Session.Network = domain.NetworkPolygon

	agg := startAggregator(t, cfg)
	require.NoError(t, agg.Settle(context.Background()))

	assert.True(t, agg.GaugeSharesFlags().Idle)
	assert.Empty(t, gauges.Calls())

	sharesMap, err := agg.StakedSharesMap()
	require.NoError(t, err)
	assert.Empty(t, sharesMap)

	total, err := agg.TotalStakedFiatValue()
	require.NoError(t, err)
	assert.True(t, total.IsZero(), "total = %s, want 0", total)

	view, err := agg.View()
	require.NoError(t, err)
	assert.Equal(t, "0", view.TotalStakedFiatValue)
	assert.Equal(t, "idle", view.GaugeShares.Status)
}

func TestAggregator_MembershipFailurePropagates(t *testing.T) {
	cfg, memberships, gauges, _, _ := testConfig()
	memberships.SetError(errors.New("indexer down"))

	agg := startAggregator(t, cfg)
	require.NoError(t, agg.Settle(context.Background()))

	// A failed membership fetch must never be treated as an account
	// with no pools: the gauge query does not run and derived values
	// are errors, not empties.
	assert.Empty(t, gauges.Calls())

	_, err := agg.StakedSharesMap()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool membership unavailable")

	_, err = agg.StakedPools()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool membership unavailable")

	_, err = agg.TotalStakedFiatValue()
	require.Error(t, err)
}

func TestAggregator_GaugeErrorSettlesWithoutRetry(t *testing.T) {
	cfg, _, gauges, _, _ := testConfig()
	gauges.SetError(errors.New("rate limited"))

	agg := startAggregator(t, cfg)
	require.NoError(t, agg.Settle(context.Background()))

	// Settled with error, exactly one attempt.
	require.Len(t, gauges.Calls(), 1)
	flags := agg.GaugeSharesFlags()
	assert.True(t, flags.Settled)
	require.Error(t, flags.Err)

	_, err := agg.StakedSharesMap()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gauge shares unavailable")

	// The explicit refetch affordance is the only retry path.
	gauges.SetResult(domain.GaugeSharesResult{
		Shares: []domain.GaugeShare{{ID: "share1", PoolID: "poolA", Balance: "150.0"}},
	})
	require.NoError(t, agg.RefetchGaugeShares(context.Background()))
	require.Len(t, gauges.Calls(), 2)

	sharesMap, err := agg.StakedSharesMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"poolA": "150.0"}, sharesMap)
}

func TestAggregator_RefetchRetainsPriorBalance(t *testing.T) {
	cfg, _, _, _, balances := testConfig()
	agg := startAggregator(t, cfg)
	require.NoError(t, agg.Settle(context.Background()))

	balance, err := agg.StakedSharesForProvidedPool()
	require.NoError(t, err)
	require.Equal(t, "42.5", balance)

	balances.SetBalance("43.0")
	gate := balances.Gate()

	type result struct {
		balance string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		b, err := agg.RefetchProvidedPoolShares(context.Background())
		done <- result{b, err}
	}()

	require.Eventually(t, func() bool {
		return agg.DirectShareFlags().Refetching
	}, time.Second, 5*time.Millisecond, "direct fetch never entered refetching")

	// While the refetch is in flight the prior balance stays visible;
	// it never reverts to the zero default.
	balance, err = agg.StakedSharesForProvidedPool()
	require.NoError(t, err)
	assert.Equal(t, "42.5", balance)

	close(gate)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "43.0", res.balance)

	balance, err = agg.StakedSharesForProvidedPool()
	require.NoError(t, err)
	assert.Equal(t, "43.0", balance)
}

func TestAggregator_DirectShareErrorSurfaces(t *testing.T) {
	cfg, _, _, _, balances := testConfig()
	agg := startAggregator(t, cfg)
	require.NoError(t, agg.Settle(context.Background()))

	balance, err := agg.StakedSharesForProvidedPool()
	require.NoError(t, err)
	require.Equal(t, "42.5", balance)

	readErr := errors.New("node unreachable")
	balances.SetError(readErr)
	_, err = agg.RefetchProvidedPoolShares(context.Background())
	require.ErrorIs(t, err, readErr)

	// An errored read surfaces as an error: never the stale prior
	// value and never the zero default.
	_, err = agg.StakedSharesForProvidedPool()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staked balance unavailable")

	flags := agg.DirectShareFlags()
	assert.True(t, flags.Settled)
	require.ErrorIs(t, flags.Err, readErr)

	// The bundled view joins the failure and keeps the renderable
	// default for the balance field.
	view, err := agg.View()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staked balance unavailable")
	assert.Equal(t, "0", view.ProvidedPoolShares)

	// The refetch affordance recovers once the source is healthy.
	balances.SetBalance("43.0")
	fresh, err := agg.RefetchProvidedPoolShares(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "43.0", fresh)

	balance, err = agg.StakedSharesForProvidedPool()
	require.NoError(t, err)
	assert.Equal(t, "43.0", balance)
}

func TestAggregator_RefetchWithoutPoolFailsImmediately(t *testing.T) {
	cfg, _, _, _, _ := testConfig()
	cfg.ProvidedPool = ""

	agg := startAggregator(t, cfg)
	require.NoError(t, agg.Settle(context.Background()))

	_, err := agg.RefetchProvidedPoolShares(context.Background())
	require.ErrorIs(t, err, ErrPoolNotConfigured)

	// The failure is synchronous: the direct fetch never entered any
	// loading state, and the default balance still reads as zero.
	assert.True(t, agg.DirectShareFlags().Idle)

	balance, err := agg.StakedSharesForProvidedPool()
	require.NoError(t, err)
	assert.Equal(t, "0", balance)

	// The bundled view carries the same renderable default.
	view, err := agg.View()
	require.NoError(t, err)
	assert.Equal(t, "0", view.ProvidedPoolShares)
}

func TestAggregator_RefetchWithoutAccountFailsImmediately(t *testing.T) {
	cfg, _, _, _, _ := testConfig()
	cfg.Session.Account = ""

	agg := startAggregator(t, cfg)
	require.NoError(t, agg.Settle(context.Background()))

	_, err := agg.RefetchProvidedPoolShares(context.Background())
	require.ErrorIs(t, err, ErrAccountNotConfigured)
	assert.True(t, agg.DirectShareFlags().Idle)
}

func TestAggregator_AccountSwitchDiscardsStaleResult(t *testing.T) {
	cfg, memberships, gauges, _, _ := testConfig()
	cfg.StakeableAllowList = []string{"poolA", "poolB"}
	memberships.SetMemberships(domain.PoolMembership{PoolID: "poolA", Balance: "1"})

	gate := memberships.Gate()
	agg := startAggregator(t, cfg)

	// Supersede the in-flight membership fetch: the new account's
	// fetch picks up the new data, the old result must be dropped on
	// arrival no matter which publish lands first.
	memberships.SetMemberships(domain.PoolMembership{PoolID: "poolB", Balance: "2"})
	agg.SetAccount("0xDeF")

	close(gate)
	require.NoError(t, agg.Settle(context.Background()))

	require.ElementsMatch(t, []string{"0xabc", "0xdef"}, memberships.Calls())
	assert.True(t, agg.MembershipFlags().Settled)

	gaugeCalls := gauges.Calls()
	require.NotEmpty(t, gaugeCalls)
	last := gaugeCalls[len(gaugeCalls)-1]
	assert.Equal(t, "0xdef", last.Account)
	assert.Equal(t, []string{"poolB"}, last.StakeablePoolIDs,
		"gauge fetch must derive from the new account's memberships")
}

func TestAggregator_DerivedValuesStableForUnchangedData(t *testing.T) {
	cfg, _, _, _, _ := testConfig()
	agg := startAggregator(t, cfg)
	require.NoError(t, agg.Settle(context.Background()))

	map1, err := agg.StakedSharesMap()
	require.NoError(t, err)
	map2, err := agg.StakedSharesMap()
	require.NoError(t, err)
	assert.True(t, reflect.DeepEqual(map1, map2))

	view1, err := agg.View()
	require.NoError(t, err)
	view2, err := agg.View()
	require.NoError(t, err)
	assert.Equal(t, view1, view2)

	// A refetch that returns identical data re-derives identical
	// values.
	require.NoError(t, agg.RefetchGaugeShares(context.Background()))
	require.NoError(t, agg.Settle(context.Background()))

	view3, err := agg.View()
	require.NoError(t, err)
	assert.Equal(t, view1, view3)
}

func TestAggregator_RefetchGaugeSharesDisabled(t *testing.T) {
	cfg, _, _, _, _ := testConfig()
	cfg.Session.Network = domain.NetworkPolygon

	agg := startAggregator(t, cfg)
	require.NoError(t, agg.Settle(context.Background()))

	err := agg.RefetchGaugeShares(context.Background())
	require.ErrorIs(t, err, ErrSourceDisabled)
}

func TestAggregator_SetProvidedPool(t *testing.T) {
	cfg, _, _, _, balances := testConfig()
	cfg.ProvidedPool = ""

	agg := startAggregator(t, cfg)
	require.NoError(t, agg.Settle(context.Background()))
	assert.True(t, agg.DirectShareFlags().Idle)
	assert.Empty(t, balances.Calls())

	agg.SetProvidedPool("0xPool1")
	require.NoError(t, agg.Settle(context.Background()))

	calls := balances.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "0xpool1", calls[0].PoolAddress)

	balance, err := agg.StakedSharesForProvidedPool()
	require.NoError(t, err)
	assert.Equal(t, "42.5", balance)

	// Clearing the pool disables the direct fetch and drops its value.
	agg.SetProvidedPool("")
	assert.True(t, agg.DirectShareFlags().Idle)
	balance, err = agg.StakedSharesForProvidedPool()
	require.NoError(t, err)
	assert.Equal(t, "0", balance)
}

func TestAggregator_ValuationErrorSurfaces(t *testing.T) {
	cfg, _, _, _, _ := testConfig()
	cfg.Pools = stub.NewPoolSource(domain.Pool{
		ID:             "poolA",
		TotalShares:    "0",
		TotalLiquidity: "5000",
	})

	agg := startAggregator(t, cfg)
	require.NoError(t, agg.Settle(context.Background()))

	// The share map derives from the gauge fetch alone and stays
	// healthy; only the valued projections fail.
	sharesMap, err := agg.StakedSharesMap()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"poolA": "150.0"}, sharesMap)

	_, err = agg.StakedPools()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value pool poolA")

	_, err = agg.TotalStakedFiatValue()
	require.Error(t, err)
}

func TestAggregator_Lifecycle(t *testing.T) {
	cfg, _, gauges, _, _ := testConfig()
	gauges.Gate() // keep the gauge fetch in flight across Close

	agg, err := NewAggregator(cfg)
	require.NoError(t, err)
	require.NoError(t, agg.Start(context.Background()))
	require.Error(t, agg.Start(context.Background()), "second Start must fail")

	require.NoError(t, agg.Close())
	require.NoError(t, agg.Close(), "Close is idempotent")

	require.ErrorIs(t, agg.Settle(context.Background()), ErrClosed)
	require.ErrorIs(t, agg.RefetchGaugeShares(context.Background()), ErrClosed)
	_, err = agg.RefetchProvidedPoolShares(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestAggregator_SettleHonorsContext(t *testing.T) {
	cfg, memberships, _, _, _ := testConfig()
	gate := memberships.Gate()
	agg := startAggregator(t, cfg)
	defer close(gate)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := agg.Settle(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
