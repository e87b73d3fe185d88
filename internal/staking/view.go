package staking

import (
	"errors"
	"fmt"
	"sort"

	"cosmossdk.io/math"

	"gauge-staking-view/internal/decimals"
	"gauge-staking-view/internal/domain"
	"gauge-staking-view/internal/fetch"
	"gauge-staking-view/internal/observability"
)

// derivedMemo caches derived values keyed by the versions of the cells
// they were computed from. A getter recomputes only when an input cell
// has changed since the last computation, so repeated reads of an
// unchanged aggregator return identical results without re-deriving.
type derivedMemo struct {
	gaugeVersion uint64
	gaugeValid   bool
	sharesMap    map[string]string
	stakedIDs    []string
	eligibleIDs  []string

	poolsVersion      uint64
	poolsGaugeVersion uint64
	poolsValid        bool
	stakedPools       []domain.StakedPool
	total             math.LegacyDec
	valuationErr      error
}

// refreshGaugeMemo rebuilds the share-derived values when the gauge
// share cell has changed. An unsettled or disabled cell yields empty
// collections, never stale ones. Callers must hold mu.
func (a *Aggregator) refreshGaugeMemo() {
	snap := a.gaugeShares.Snapshot()
	if a.memo.gaugeValid && a.memo.gaugeVersion == snap.Version {
		return
	}

	shares := snap.Value.Shares
	m := BuildStakedShareMap(shares)
	if len(m) < len(shares) {
		a.log.Warn().
			Int("shares", len(shares)).
			Int("pools", len(m)).
			Msg("duplicate pool in gauge shares, keeping last")
	}
	a.memo.sharesMap = m
	a.memo.stakedIDs = StakedPoolIDs(shares)
	a.memo.eligibleIDs = EligibleGaugePoolIDs(snap.Value.Gauges)
	a.memo.gaugeVersion = snap.Version
	a.memo.gaugeValid = true
}

// refreshPoolsMemo rebuilds the enriched pool list and the fiat total
// when either the pool metadata or the gauge shares changed. Pools are
// valued in ID order so the total never depends on response ordering.
// Callers must hold mu.
func (a *Aggregator) refreshPoolsMemo() {
	a.refreshGaugeMemo()

	psnap := a.stakedPools.Snapshot()
	gsnap := a.gaugeShares.Snapshot()
	if a.memo.poolsValid && a.memo.poolsVersion == psnap.Version && a.memo.poolsGaugeVersion == gsnap.Version {
		return
	}

	pools := append([]domain.Pool(nil), psnap.Value...)
	sort.Slice(pools, func(i, j int) bool { return pools[i].ID < pools[j].ID })

	staked := make([]domain.StakedPool, 0, len(pools))
	total := math.LegacyZeroDec()
	var valErr error
	for _, p := range pools {
		bpt, ok := a.memo.sharesMap[p.ID]
		if !ok {
			bpt = "0"
		}
		fiat, err := a.cfg.Valuate(p, bpt)
		if err != nil {
			valErr = fmt.Errorf("value pool %s: %w", p.ID, err)
			break
		}
		staked = append(staked, domain.StakedPool{Pool: p, BPT: bpt, Shares: fiat})
		total = total.Add(fiat)
	}

	if valErr != nil {
		a.memo.stakedPools = nil
		a.memo.total = math.LegacyZeroDec()
	} else {
		a.memo.stakedPools = staked
		a.memo.total = total
		if f, err := total.Float64(); err == nil {
			observability.UpdateStakedView(len(staked), f)
		}
	}
	a.memo.valuationErr = valErr
	a.memo.poolsVersion = psnap.Version
	a.memo.poolsGaugeVersion = gsnap.Version
	a.memo.poolsValid = true
}

// gaugeUpstreamErr reports the first failure on the path feeding the
// gauge-share derived values. Callers must hold mu.
func (a *Aggregator) gaugeUpstreamErr() error {
	if err := a.membership.Snapshot().Err; err != nil {
		return fmt.Errorf("pool membership unavailable: %w", err)
	}
	if err := a.gaugeShares.Snapshot().Err; err != nil {
		return fmt.Errorf("gauge shares unavailable: %w", err)
	}
	return nil
}

// poolsUpstreamErr extends gaugeUpstreamErr with the pool metadata
// fetch. Callers must hold mu.
func (a *Aggregator) poolsUpstreamErr() error {
	if err := a.gaugeUpstreamErr(); err != nil {
		return err
	}
	if err := a.stakedPools.Snapshot().Err; err != nil {
		return fmt.Errorf("staked pool metadata unavailable: %w", err)
	}
	return nil
}

// StakedSharesMap maps pool ID to the account's staked gauge balance.
// It mirrors the gauge share list exactly: one entry per nonzero
// share, empty while the gauge fetch has not settled. A failed
// upstream fetch surfaces as an error, never as an empty map.
func (a *Aggregator) StakedSharesMap() (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.gaugeUpstreamErr(); err != nil {
		return nil, err
	}
	a.refreshGaugeMemo()
	return copyStringMap(a.memo.sharesMap), nil
}

// StakedPoolIDs lists the pool IDs the account has staked shares in,
// sorted. Empty while the gauge fetch is in flight.
func (a *Aggregator) StakedPoolIDs() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.gaugeUpstreamErr(); err != nil {
		return nil, err
	}
	a.refreshGaugeMemo()
	return append([]string(nil), a.memo.stakedIDs...), nil
}

// EligibleGaugePoolIDs lists the stakeable pool IDs that have a live
// gauge, sorted.
func (a *Aggregator) EligibleGaugePoolIDs() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.gaugeUpstreamErr(); err != nil {
		return nil, err
	}
	a.refreshGaugeMemo()
	return append([]string(nil), a.memo.eligibleIDs...), nil
}

// StakedPools returns the staked pools decorated with the account's
// staked balance and its fiat value, sorted by pool ID.
func (a *Aggregator) StakedPools() ([]domain.StakedPool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.poolsUpstreamErr(); err != nil {
		return nil, err
	}
	a.refreshPoolsMemo()
	if a.memo.valuationErr != nil {
		return nil, a.memo.valuationErr
	}
	return append([]domain.StakedPool(nil), a.memo.stakedPools...), nil
}

// TotalStakedFiatValue sums the fiat value of every staked position.
// The sum is computed in pool-ID order, so it does not depend on the
// order pools arrived in.
func (a *Aggregator) TotalStakedFiatValue() (math.LegacyDec, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.poolsUpstreamErr(); err != nil {
		return math.LegacyDec{}, err
	}
	a.refreshPoolsMemo()
	if a.memo.valuationErr != nil {
		return math.LegacyDec{}, a.memo.valuationErr
	}
	return a.memo.total, nil
}

// StakedSharesForProvidedPool returns the direct-read staked balance
// for the provided pool. It defaults to "0" only while no result has
// settled; a settled failure is an error, not a zero balance.
func (a *Aggregator) StakedSharesForProvidedPool() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := a.directShare.Snapshot()
	if snap.Err != nil {
		return "", fmt.Errorf("staked balance unavailable: %w", snap.Err)
	}
	if !snap.HasValue {
		return "0", nil
	}
	return snap.Value, nil
}

// MembershipFlags reports the pool membership fetch state. A refetch
// shows as loading; membership callers do not distinguish the two.
func (a *Aggregator) MembershipFlags() fetch.Flags {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.membership.Snapshot().Flags().Collapsed()
}

// GaugeSharesFlags reports the gauge share fetch state, with refetches
// collapsed into loading.
func (a *Aggregator) GaugeSharesFlags() fetch.Flags {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gaugeShares.Snapshot().Flags().Collapsed()
}

// StakedPoolsFlags reports the pool metadata fetch state, with
// refetches collapsed into loading.
func (a *Aggregator) StakedPoolsFlags() fetch.Flags {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stakedPools.Snapshot().Flags().Collapsed()
}

// DirectShareFlags reports the direct balance fetch state. Unlike the
// graph-backed fetches it keeps idle, loading and refetching distinct,
// so callers can tell a first read from a refresh that still shows the
// prior balance.
func (a *Aggregator) DirectShareFlags() fetch.Flags {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.directShare.Snapshot().Flags()
}

// FetchStatus is the printable state of one fetch.
type FetchStatus struct {
	Status string
	Error  string
}

func fetchStatusOf(f fetch.Flags) FetchStatus {
	st := FetchStatus{Status: "idle"}
	switch {
	case f.Refetching:
		st.Status = "refetching"
	case f.Loading:
		st.Status = "loading"
	case f.Settled:
		st.Status = "settled"
	}
	if f.Err != nil {
		st.Error = f.Err.Error()
	}
	return st
}

// View is one atomic snapshot of the staked position state, suitable
// for rendering. Every value in it derives from the same instant; a
// fetch settling after View returns is not mixed in.
type View struct {
	Account          string
	Network          string
	StakingSupported bool

	StakedShares         map[string]string
	StakedPoolIDs        []string
	EligibleGaugePoolIDs []string
	StakedPools          []domain.StakedPool
	TotalStakedFiatValue string
	ProvidedPool         string

	// ProvidedPoolShares is always renderable: "0" until a direct
	// reading settles (or when no pool is configured), the retained
	// balance otherwise. A failed read keeps "0" and joins its error
	// into the View error.
	ProvidedPoolShares string

	Membership  FetchStatus
	GaugeShares FetchStatus
	Pools       FetchStatus
	DirectShare FetchStatus
}

// View assembles the full derived state under one lock acquisition.
// Values whose upstream fetch failed are left zero and their failures
// joined into the returned error; per-fetch statuses report every
// fetch regardless.
func (a *Aggregator) View() (View, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v := View{
		Account:              a.account,
		Network:              a.cfg.Session.Network.Name,
		StakingSupported:     a.cfg.Session.Network.StakingSupported,
		TotalStakedFiatValue: "0",
		ProvidedPool:         a.providedPool,
		ProvidedPoolShares:   "0",
		Membership:           fetchStatusOf(a.membership.Snapshot().Flags().Collapsed()),
		GaugeShares:          fetchStatusOf(a.gaugeShares.Snapshot().Flags().Collapsed()),
		Pools:                fetchStatusOf(a.stakedPools.Snapshot().Flags().Collapsed()),
		DirectShare:          fetchStatusOf(a.directShare.Snapshot().Flags()),
	}

	var errs []error

	if err := a.gaugeUpstreamErr(); err != nil {
		errs = append(errs, err)
	} else {
		a.refreshGaugeMemo()
		v.StakedShares = copyStringMap(a.memo.sharesMap)
		v.StakedPoolIDs = append([]string(nil), a.memo.stakedIDs...)
		v.EligibleGaugePoolIDs = append([]string(nil), a.memo.eligibleIDs...)

		if err := a.stakedPools.Snapshot().Err; err != nil {
			errs = append(errs, fmt.Errorf("staked pool metadata unavailable: %w", err))
		} else {
			a.refreshPoolsMemo()
			if a.memo.valuationErr != nil {
				errs = append(errs, a.memo.valuationErr)
			} else {
				v.StakedPools = append([]domain.StakedPool(nil), a.memo.stakedPools...)
				v.TotalStakedFiatValue = decimals.Trim(a.memo.total)
			}
		}
	}

	if a.providedPool != "" {
		snap := a.directShare.Snapshot()
		switch {
		case snap.Err != nil:
			errs = append(errs, fmt.Errorf("staked balance unavailable: %w", snap.Err))
		case snap.HasValue:
			v.ProvidedPoolShares = snap.Value
		}
	}

	return v, errors.Join(errs...)
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
