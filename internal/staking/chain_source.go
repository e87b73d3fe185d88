package staking

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"gauge-staking-view/internal/decimals"
	"gauge-staking-view/internal/evm"
)

// ChainShareSource implements GaugeBalanceSource with direct contract
// reads, bypassing the indexed graph entirely. It serves accounts whose
// freshly staked balance has not been indexed yet.
type ChainShareSource struct {
	reader *evm.GaugeReader
}

// NewChainShareSource creates a balance source over a gauge reader.
func NewChainShareSource(reader *evm.GaugeReader) *ChainShareSource {
	return &ChainShareSource{reader: reader}
}

// FetchStakedBalance resolves the pool's gauge and reads the account's
// staked balance from it, returned as a human-readable decimal string.
func (s *ChainShareSource) FetchStakedBalance(ctx context.Context, account, poolAddress string) (string, error) {
	if !common.IsHexAddress(account) {
		return "", fmt.Errorf("account %q is not a hex address", account)
	}
	if !common.IsHexAddress(poolAddress) {
		return "", fmt.Errorf("pool address %q is not a hex address", poolAddress)
	}

	gauge, err := s.reader.ResolveGaugeAddress(ctx, common.HexToAddress(poolAddress))
	if err != nil {
		return "", fmt.Errorf("resolve gauge for pool %s: %w", poolAddress, err)
	}

	raw, err := s.reader.ReadGaugeBalance(ctx, gauge, common.HexToAddress(account))
	if err != nil {
		return "", fmt.Errorf("read gauge balance: %w", err)
	}
	return decimals.FromRaw18(raw), nil
}
