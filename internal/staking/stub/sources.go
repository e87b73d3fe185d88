// Package stub provides scripted in-memory implementations of the
// staking source interfaces for testing. Every stub records its calls,
// can be forced to fail, and can be gated so a fetch stays in flight
// until the test releases it.
package stub

import (
	"context"
	"sync"

	"gauge-staking-view/internal/domain"
)

// MembershipSource implements staking.PoolMembershipSource.
type MembershipSource struct {
	mu          sync.Mutex
	memberships []domain.PoolMembership
	err         error
	gate        chan struct{}
	calls       []string
}

// NewMembershipSource creates a stub returning the given memberships.
func NewMembershipSource(memberships ...domain.PoolMembership) *MembershipSource {
	return &MembershipSource{memberships: memberships}
}

// SetMemberships replaces the scripted memberships.
func (s *MembershipSource) SetMemberships(memberships ...domain.PoolMembership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships = memberships
	s.err = nil
}

// SetError forces subsequent fetches to fail.
func (s *MembershipSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Gate makes subsequent fetches block until the returned channel is
// closed, keeping the fetch observably in flight.
func (s *MembershipSource) Gate() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	return s.gate
}

// Calls returns the accounts fetched so far.
func (s *MembershipSource) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// FetchUserPools returns the scripted memberships.
func (s *MembershipSource) FetchUserPools(ctx context.Context, account string) ([]domain.PoolMembership, error) {
	s.mu.Lock()
	s.calls = append(s.calls, account)
	memberships := append([]domain.PoolMembership(nil), s.memberships...)
	err := s.err
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

// GaugeShareCall records one gauge share fetch.
type GaugeShareCall struct {
	Account          string
	StakeablePoolIDs []string
}

// GaugeShareSource implements staking.GaugeShareSource.
type GaugeShareSource struct {
	mu     sync.Mutex
	result domain.GaugeSharesResult
	err    error
	gate   chan struct{}
	calls  []GaugeShareCall
}

// NewGaugeShareSource creates a stub returning the given result.
func NewGaugeShareSource(result domain.GaugeSharesResult) *GaugeShareSource {
	return &GaugeShareSource{result: result}
}

// SetResult replaces the scripted result.
func (s *GaugeShareSource) SetResult(result domain.GaugeSharesResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = result
	s.err = nil
}

// SetError forces subsequent fetches to fail.
func (s *GaugeShareSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Gate makes subsequent fetches block until the returned channel is
// closed.
func (s *GaugeShareSource) Gate() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	return s.gate
}

// Calls returns the recorded fetches.
func (s *GaugeShareSource) Calls() []GaugeShareCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GaugeShareCall(nil), s.calls...)
}

// FetchGaugeShares returns the scripted result.
func (s *GaugeShareSource) FetchGaugeShares(ctx context.Context, account string, stakeablePoolIDs []string) (domain.GaugeSharesResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, GaugeShareCall{
		Account:          account,
		StakeablePoolIDs: append([]string(nil), stakeablePoolIDs...),
	})
	result := s.result
	err := s.err
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.GaugeSharesResult{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.GaugeSharesResult{}, err
	}
	return result, nil
}

// PoolCall records one pool metadata fetch.
type PoolCall struct {
	IDs      []string
	PageSize int
}

// PoolSource implements staking.PoolSource.
type PoolSource struct {
	mu    sync.Mutex
	pools map[string]domain.Pool
	err   error
	gate  chan struct{}
	calls []PoolCall
}

// NewPoolSource creates a stub serving the given pools by ID.
func NewPoolSource(pools ...domain.Pool) *PoolSource {
	m := make(map[string]domain.Pool, len(pools))
	for _, p := range pools {
		m[p.ID] = p
	}
	return &PoolSource{pools: m}
}

// SetError forces subsequent fetches to fail.
func (s *PoolSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Gate makes subsequent fetches block until the returned channel is
// closed.
func (s *PoolSource) Gate() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	return s.gate
}

// Calls returns the recorded fetches.
func (s *PoolSource) Calls() []PoolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PoolCall(nil), s.calls...)
}

// FetchPoolsByIDs returns the scripted pools matching the given IDs.
func (s *PoolSource) FetchPoolsByIDs(ctx context.Context, ids []string, pageSize int) ([]domain.Pool, error) {
	s.mu.Lock()
	s.calls = append(s.calls, PoolCall{IDs: append([]string(nil), ids...), PageSize: pageSize})
	var pools []domain.Pool
	for _, id := range ids {
		if p, ok := s.pools[id]; ok {
			pools = append(pools, p)
		}
	}
	err := s.err
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return pools, nil
}

// BalanceCall records one direct balance fetch.
type BalanceCall struct {
	Account     string
	PoolAddress string
}

// BalanceSource implements staking.GaugeBalanceSource.
type BalanceSource struct {
	mu      sync.Mutex
	balance string
	err     error
	gate    chan struct{}
	calls   []BalanceCall
}

// NewBalanceSource creates a stub returning the given balance.
func NewBalanceSource(balance string) *BalanceSource {
	return &BalanceSource{balance: balance}
}

// SetBalance replaces the scripted balance.
func (s *BalanceSource) SetBalance(balance string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = balance
	s.err = nil
}

// SetError forces subsequent fetches to fail.
func (s *BalanceSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Gate makes subsequent fetches block until the returned channel is
// closed.
func (s *BalanceSource) Gate() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	return s.gate
}

// Calls returns the recorded fetches.
func (s *BalanceSource) Calls() []BalanceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BalanceCall(nil), s.calls...)
}

// FetchStakedBalance returns the scripted balance.
func (s *BalanceSource) FetchStakedBalance(ctx context.Context, account, poolAddress string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, BalanceCall{Account: account, PoolAddress: poolAddress})
	balance := s.balance
	err := s.err
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return balance, nil
}
