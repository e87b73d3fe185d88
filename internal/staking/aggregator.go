package staking

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gauge-staking-view/internal/domain"
	"gauge-staking-view/internal/fetch"
	"gauge-staking-view/internal/logger"
	"gauge-staking-view/internal/observability"
	"gauge-staking-view/internal/pricing"
)

// Fetch source labels used in logs and metrics.
const (
	sourceMembership  = "membership"
	sourceGaugeShares = "gauge_shares"
	sourceStakedPools = "staked_pools"
	sourceDirectShare = "direct_share"
)

// Config assembles an Aggregator from its collaborators.
type Config struct {
	// Session identifies the account and network the view is built for.
	Session domain.Session

	// StakeableAllowList restricts gauge queries to these pool IDs.
	StakeableAllowList []string

	// ProvidedPool optionally selects one pool address for direct
	// on-chain balance reads.
	ProvidedPool string

	Memberships PoolMembershipSource
	GaugeShares GaugeShareSource
	Pools       PoolSource

	// DirectShares may be nil when no direct chain reads are needed.
	DirectShares GaugeBalanceSource

	// Valuate converts a pool's staked balance into fiat.
	Valuate pricing.Valuator
}

func (c Config) validate() error {
	if c.Memberships == nil {
		return fmt.Errorf("membership source is required")
	}
	if c.GaugeShares == nil {
		return fmt.Errorf("gauge share source is required")
	}
	if c.Pools == nil {
		return fmt.Errorf("pool source is required")
	}
	if c.Valuate == nil {
		return fmt.Errorf("valuator is required")
	}
	return nil
}

// Aggregator reconciles the graph-indexed staking data and direct
// chain reads into one coherent view of an account's staked positions.
// It owns four keyed fetches (pool membership, gauge shares, staked
// pool metadata, and the direct per-pool balance) and re-keys or
// disables each one whenever an upstream fetch or the session changes.
// Results arriving for a superseded key are discarded, so derived
// values never mix data from two different fetch identities.
type Aggregator struct {
	cfg Config
	log zerolog.Logger

	mu           sync.Mutex
	account      string
	providedPool string

	membership  *fetch.Cell[[]domain.PoolMembership]
	gaugeShares *fetch.Cell[domain.GaugeSharesResult]
	stakedPools *fetch.Cell[[]domain.Pool]
	directShare *fetch.Cell[string]

	memo derivedMemo

	started bool
	closed  bool

	// idleWait is closed when no fetch is in flight; Settle waits on it.
	idleWait chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAggregator creates an aggregator for the configured session. No
// fetch runs until Start is called.
func NewAggregator(cfg Config) (*Aggregator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("aggregator config: %w", err)
	}

	return &Aggregator{
		cfg:          cfg,
		log:          logger.GetForComponent("aggregator"),
		account:      normalizeKeyPart(cfg.Session.Account),
		providedPool: normalizeKeyPart(cfg.ProvidedPool),
		membership:   fetch.NewCell[[]domain.PoolMembership](),
		gaugeShares:  fetch.NewCell[domain.GaugeSharesResult](),
		stakedPools:  fetch.NewCell[[]domain.Pool](),
		directShare:  fetch.NewCell[string](),
	}, nil
}

// Start begins fetching. The context bounds the lifetime of every
// background fetch the aggregator spawns.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.started {
		return fmt.Errorf("aggregator already started")
	}

	a.ctx, a.cancel = context.WithCancel(ctx)
	a.started = true
	a.log.Debug().
		Str("account", a.account).
		Str("network", a.cfg.Session.Network.Name).
		Msg("aggregator started")
	a.reconcile()
	return nil
}

// Close cancels in-flight fetches and waits for them to finish.
func (a *Aggregator) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	if a.cancel != nil {
		a.cancel()
	}
	a.notifyIfQuiet()
	a.mu.Unlock()

	a.wg.Wait()
	return nil
}

// Settle blocks until no fetch is in flight, the context is done, or
// the aggregator is closed. Fetches chained by reconciliation count as
// in flight the moment their parent settles, so a nil return means the
// whole cascade has quiesced.
func (a *Aggregator) Settle(ctx context.Context) error {
	for {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return ErrClosed
		}
		if !a.anyInFlight() {
			a.mu.Unlock()
			return nil
		}
		if a.idleWait == nil {
			a.idleWait = make(chan struct{})
		}
		wait := a.idleWait
		a.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SetAccount switches the session to a different account. The old
// account's fetches are superseded immediately; their late results are
// discarded on arrival.
func (a *Aggregator) SetAccount(account string) {
	account = normalizeKeyPart(account)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || account == a.account {
		return
	}
	a.account = account
	a.reconcile()
}

// SetProvidedPool selects the pool address for direct chain reads.
// An empty address disables the direct fetch.
func (a *Aggregator) SetProvidedPool(poolAddress string) {
	poolAddress = normalizeKeyPart(poolAddress)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || poolAddress == a.providedPool {
		return
	}
	a.providedPool = poolAddress
	a.reconcile()
}

// RefetchGaugeShares forces a fresh gauge share fetch for the current
// key and waits for it. It returns ErrSourceDisabled when the gauge
// fetch is not active (no account, or the network has no staking), and
// ErrSuperseded when a key change overtook the refetch before its
// result landed.
func (a *Aggregator) RefetchGaugeShares(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.gaugeShares.Snapshot().Status == fetch.StatusIdle {
		a.mu.Unlock()
		return ErrSourceDisabled
	}
	account := a.account
	ids := FilterStakeable(domain.MembershipPoolIDs(a.membership.Snapshot().Value), a.cfg.StakeableAllowList)
	gen := a.gaugeShares.Refetch(gaugeSharesKey(account, ids))
	a.mu.Unlock()

	start := time.Now()
	result, err := a.cfg.GaugeShares.FetchGaugeShares(ctx, account, ids)
	observability.RecordFetch(sourceGaugeShares, err, time.Since(start).Seconds())

	if !publishResult(a, a.gaugeShares, sourceGaugeShares, gen, result, err) {
		return ErrSuperseded
	}
	return err
}

// RefetchProvidedPoolShares reads the provided pool's staked balance
// from chain and waits for it, returning the fresh balance. Missing
// configuration fails immediately; the direct fetch never enters the
// loading state for a request that cannot run.
func (a *Aggregator) RefetchProvidedPoolShares(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return "", ErrClosed
	}
	if a.cfg.DirectShares == nil {
		a.mu.Unlock()
		return "", ErrSourceDisabled
	}
	if a.providedPool == "" {
		a.mu.Unlock()
		return "", ErrPoolNotConfigured
	}
	if a.account == "" {
		a.mu.Unlock()
		return "", ErrAccountNotConfigured
	}
	account, pool := a.account, a.providedPool
	gen := a.directShare.Refetch(directShareKey(account, pool))
	a.mu.Unlock()

	start := time.Now()
	balance, err := a.cfg.DirectShares.FetchStakedBalance(ctx, account, pool)
	observability.RecordFetch(sourceDirectShare, err, time.Since(start).Seconds())

	if !publishResult(a, a.directShare, sourceDirectShare, gen, balance, err) {
		return "", ErrSuperseded
	}
	if err != nil {
		return "", err
	}
	return balance, nil
}

// reconcile drives every cell toward the key its inputs demand:
// disabled when an input is missing, fetching when the key is new, and
// untouched when the key already matches. It runs after every input
// change and after every publish, so settling one fetch starts its
// dependents. Callers must hold mu.
func (a *Aggregator) reconcile() {
	if !a.started || a.closed {
		return
	}

	if a.account == "" {
		a.membership.Disable()
	} else if gen, ok := a.membership.Begin(membershipKey(a.account)); ok {
		account := a.account
		spawnFetch(a, a.membership, sourceMembership, gen, func(ctx context.Context) ([]domain.PoolMembership, error) {
			return a.cfg.Memberships.FetchUserPools(ctx, account)
		})
	}

	// The gauge query waits for a clean membership result: a failed
	// membership fetch must propagate, never masquerade as an account
	// with no pools.
	msnap := a.membership.Snapshot()
	if !a.cfg.Session.Network.StakingSupported || !usable(msnap) {
		a.gaugeShares.Disable()
	} else {
		ids := FilterStakeable(domain.MembershipPoolIDs(msnap.Value), a.cfg.StakeableAllowList)
		if gen, ok := a.gaugeShares.Begin(gaugeSharesKey(a.account, ids)); ok {
			account := a.account
			spawnFetch(a, a.gaugeShares, sourceGaugeShares, gen, func(ctx context.Context) (domain.GaugeSharesResult, error) {
				return a.cfg.GaugeShares.FetchGaugeShares(ctx, account, ids)
			})
		}
	}

	gsnap := a.gaugeShares.Snapshot()
	if stakedIDs := StakedPoolIDs(gsnap.Value.Shares); !usable(gsnap) || len(stakedIDs) == 0 {
		a.stakedPools.Disable()
	} else if gen, ok := a.stakedPools.Begin(stakedPoolsKey(stakedIDs)); ok {
		// One batched query sized to the exact staked set.
		spawnFetch(a, a.stakedPools, sourceStakedPools, gen, func(ctx context.Context) ([]domain.Pool, error) {
			return a.cfg.Pools.FetchPoolsByIDs(ctx, stakedIDs, len(stakedIDs))
		})
	}

	if a.cfg.DirectShares == nil || a.account == "" || a.providedPool == "" {
		a.directShare.Disable()
	} else if gen, ok := a.directShare.Begin(directShareKey(a.account, a.providedPool)); ok {
		account, pool := a.account, a.providedPool
		spawnFetch(a, a.directShare, sourceDirectShare, gen, func(ctx context.Context) (string, error) {
			return a.cfg.DirectShares.FetchStakedBalance(ctx, account, pool)
		})
	}
}

// spawnFetch runs one fetch in the background and publishes its result.
func spawnFetch[V any](a *Aggregator, cell *fetch.Cell[V], source string, gen uint64, run func(context.Context) (V, error)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		start := time.Now()
		value, err := run(a.ctx)
		observability.RecordFetch(source, err, time.Since(start).Seconds())
		if err != nil {
			a.log.Warn().Err(err).Str("source", source).Msg("fetch failed")
		}
		publishResult(a, cell, source, gen, value, err)
	}()
}

// publishResult installs a fetch result and reconciles dependents. A
// result for a superseded generation is dropped silently; the cell
// already carries the state of the fetch that replaced it.
func publishResult[V any](a *Aggregator, cell *fetch.Cell[V], source string, gen uint64, value V, err error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !cell.Publish(gen, value, err) {
		observability.RecordStaleDiscard(source)
		a.log.Debug().Str("source", source).Msg("stale fetch result discarded")
		a.notifyIfQuiet()
		return false
	}
	a.reconcile()
	a.notifyIfQuiet()
	return true
}

// usable reports whether derived state may be built from a snapshot: a
// clean value fetched under the current key, either settled or still
// exposed while a refetch is in flight.
func usable[V any](s fetch.Snapshot[V]) bool {
	return s.HasValue && s.Err == nil
}

// anyInFlight reports whether any cell has an outstanding fetch.
// Callers must hold mu.
func (a *Aggregator) anyInFlight() bool {
	return a.membership.Snapshot().InFlight() ||
		a.gaugeShares.Snapshot().InFlight() ||
		a.stakedPools.Snapshot().InFlight() ||
		a.directShare.Snapshot().InFlight()
}

// notifyIfQuiet wakes Settle waiters once nothing is in flight.
// Callers must hold mu.
func (a *Aggregator) notifyIfQuiet() {
	if a.idleWait == nil {
		return
	}
	if a.closed || !a.anyInFlight() {
		close(a.idleWait)
		a.idleWait = nil
	}
}

// normalizeKeyPart canonicalizes account and pool addresses the way
// the indexer stores them, so fetch keys and query filters agree.
func normalizeKeyPart(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
