package stub

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Caller implements ethereum.ContractCaller for testing. Return data
// is scripted per contract address and every call is recorded.
type Caller struct {
	mu      sync.Mutex
	returns map[common.Address][]byte
	errs    map[common.Address]error
	calls   []ethereum.CallMsg
}

// NewCaller creates a new stub contract caller.
func NewCaller() *Caller {
	return &Caller{
		returns: make(map[common.Address][]byte),
		errs:    make(map[common.Address]error),
	}
}

// SetReturn scripts raw return data for calls to a contract.
func (c *Caller) SetReturn(to common.Address, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.returns[to] = data
	delete(c.errs, to)
}

// SetAddressReturn scripts an address-typed return value.
func (c *Caller) SetAddressReturn(to common.Address, addr common.Address) {
	c.SetReturn(to, common.LeftPadBytes(addr.Bytes(), 32))
}

// SetUint256Return scripts a uint256-typed return value.
func (c *Caller) SetUint256Return(to common.Address, v *big.Int) {
	c.SetReturn(to, common.LeftPadBytes(v.Bytes(), 32))
}

// SetError forces an error for calls to a contract.
func (c *Caller) SetError(to common.Address, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[to] = err
}

// CallContract returns the scripted data for the call target.
func (c *Caller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, call)

	if call.To == nil {
		return nil, errors.New("stub: call without target")
	}
	if err := c.errs[*call.To]; err != nil {
		return nil, err
	}
	data, ok := c.returns[*call.To]
	if !ok {
		return nil, fmt.Errorf("stub: no return scripted for %s", call.To.Hex())
	}
	return data, nil
}

// Calls returns a copy of the recorded calls.
func (c *Caller) Calls() []ethereum.CallMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ethereum.CallMsg(nil), c.calls...)
}
