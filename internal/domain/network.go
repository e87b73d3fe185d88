package domain

import "strings"

// Network identifies the chain a session is connected to and whether
// its tier carries the staking product. Scaling-layer networks have no
// gauge deployment, so staking reads stay disabled there.
type Network struct {
	Name             string
	ChainID          uint64
	StakingSupported bool
}

// Well-known networks.
var (
	NetworkMainnet  = Network{Name: "mainnet", ChainID: 1, StakingSupported: true}
	NetworkPolygon  = Network{Name: "polygon", ChainID: 137, StakingSupported: false}
	NetworkArbitrum = Network{Name: "arbitrum", ChainID: 42161, StakingSupported: false}
	NetworkOptimism = Network{Name: "optimism", ChainID: 10, StakingSupported: false}
)

// NetworkByName resolves a well-known network from its configuration
// name. The second return is false for unknown names.
func NetworkByName(name string) (Network, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NetworkMainnet.Name:
		return NetworkMainnet, true
	case NetworkPolygon.Name:
		return NetworkPolygon, true
	case NetworkArbitrum.Name:
		return NetworkArbitrum, true
	case NetworkOptimism.Name:
		return NetworkOptimism, true
	default:
		return Network{}, false
	}
}

// Session carries the connected account and network. It is threaded
// explicitly into the aggregator and sources instead of being read from
// ambient global state.
type Session struct {
	Account string // account address, any hex casing
	Network Network
}
