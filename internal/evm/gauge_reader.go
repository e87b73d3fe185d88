package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"gauge-staking-view/internal/logger"
)

// ABI fragments for the two view calls the reader performs.
const (
	factoryABIJSON = `[{"inputs":[{"internalType":"address","name":"pool","type":"address"}],"name":"getPoolGauge","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}]`
	gaugeABIJSON   = `[{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`
)

var (
	factoryABI = mustABI(factoryABIJSON)
	gaugeABI   = mustABI(gaugeABIJSON)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse ABI: %v", err))
	}
	return parsed
}

// GaugeReader performs the gauge view calls against one gauge factory
// deployment.
type GaugeReader struct {
	caller  ethereum.ContractCaller
	factory common.Address
	log     zerolog.Logger
}

// NewGaugeReader creates a reader bound to a gauge factory address.
func NewGaugeReader(caller ethereum.ContractCaller, factory common.Address) *GaugeReader {
	return &GaugeReader{
		caller:  caller,
		factory: factory,
		log:     logger.GetForComponent("gauge_reader"),
	}
}

// ResolveGaugeAddress resolves the gauge contract for a pool via the
// factory's getPoolGauge view. Returns ErrNoGauge when the factory
// reports the zero address.
func (r *GaugeReader) ResolveGaugeAddress(ctx context.Context, pool common.Address) (common.Address, error) {
	input, err := factoryABI.Pack("getPoolGauge", pool)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack getPoolGauge: %w", err)
	}

	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.factory, Data: input}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("call getPoolGauge: %w", err)
	}

	results, err := factoryABI.Unpack("getPoolGauge", out)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack getPoolGauge: %w", err)
	}
	gauge, ok := results[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected getPoolGauge result type %T", results[0])
	}

	if gauge == (common.Address{}) {
		return common.Address{}, fmt.Errorf("pool %s: %w", pool.Hex(), ErrNoGauge)
	}

	r.log.Debug().
		Str("pool", pool.Hex()).
		Str("gauge", gauge.Hex()).
		Msg("resolved gauge address")

	return gauge, nil
}

// ReadGaugeBalance reads the account's raw staked balance from a gauge
// contract. The result carries the gauge's fixed 18-decimal scale.
func (r *GaugeReader) ReadGaugeBalance(ctx context.Context, gauge, account common.Address) (*big.Int, error) {
	input, err := gaugeABI.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}

	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &gauge, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}

	results, err := gaugeABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", results[0])
	}

	return balance, nil
}
