package pricing

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const pairABIJSON = `[
  {"constant":true,"inputs":[],"name":"getReserves","outputs":[
    {"internalType":"uint112","name":"_reserve0","type":"uint112"},
    {"internalType":"uint112","name":"_reserve1","type":"uint112"},
    {"internalType":"uint32","name":"_blockTimestampLast","type":"uint32"}],
   "payable":false,"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[],"name":"token0","outputs":[
    {"internalType":"address","name":"","type":"address"}],
   "payable":false,"stateMutability":"view","type":"function"}
]`

var pairABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		panic("failed to parse pair ABI: " + err.Error())
	}
	pairABI = parsed
}

// NativePricer supplies the USD price of the chain's native coin for
// reserve-ratio conversion.
type NativePricer interface {
	Resolve(ctx context.Context) Quote
}

// PairOptions parameterise the on-chain reserve source.
type PairOptions struct {
	RPCURL         string
	PairAddress    string
	TokenAddress   string
	TokenDecimals  int
	NativeDecimals int
	Timeout        time.Duration
}

// Pair derives a token's USD price from an AMM pair's reserves: the
// native-per-token ratio multiplied by the native coin's USD price.
type Pair struct {
	opts   PairOptions
	native NativePricer

	clientMux sync.Mutex
	client    *ethclient.Client
}

// NewPair constructs the on-chain reserve source.
func NewPair(opts PairOptions, native NativePricer) *Pair {
	if opts.NativeDecimals <= 0 {
		opts.NativeDecimals = 18
	}
	return &Pair{opts: opts, native: native}
}

func (p *Pair) Name() string { return "pair" }

// Quote reads the pair reserves and converts through the native price.
// Pools may store the pair in either order, so the token position is
// determined from token0 rather than assumed.
func (p *Pair) Quote(ctx context.Context) (decimal.Decimal, error) {
	if p.opts.RPCURL == "" {
		return decimal.Decimal{}, errors.New("pair: rpc url not configured")
	}
	if p.opts.PairAddress == "" || p.opts.TokenAddress == "" {
		return decimal.Decimal{}, errors.New("pair: pair and token addresses required")
	}
	if p.opts.TokenDecimals <= 0 {
		return decimal.Decimal{}, errors.New("pair: token decimals not configured")
	}

	timeout := p.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := p.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	pairAddr := common.HexToAddress(p.opts.PairAddress)

	token0, err := p.callToken0(ctx, client, pairAddr)
	if err != nil {
		return decimal.Decimal{}, err
	}

	reserve0, reserve1, err := p.callGetReserves(ctx, client, pairAddr)
	if err != nil {
		return decimal.Decimal{}, err
	}

	tokenReserve, nativeReserve := reserve0, reserve1
	if token0 != common.HexToAddress(p.opts.TokenAddress) {
		tokenReserve, nativeReserve = reserve1, reserve0
	}

	tokenAmount := decimal.NewFromBigInt(tokenReserve, -int32(p.opts.TokenDecimals))
	nativeAmount := decimal.NewFromBigInt(nativeReserve, -int32(p.opts.NativeDecimals))
	if !tokenAmount.IsPositive() {
		return decimal.Decimal{}, errors.New("pair: token reserve is zero")
	}

	nativeQuote := p.native.Resolve(ctx)
	return nativeAmount.Div(tokenAmount).Mul(nativeQuote.Price), nil
}

// Ping dials the RPC endpoint if needed and asks for the current block
// height. The health endpoint uses it to surface a dead chain connection.
func (p *Pair) Ping(ctx context.Context) error {
	if p.opts.RPCURL == "" {
		return errors.New("pair: rpc url not configured")
	}

	timeout := p.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := p.getClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.BlockNumber(ctx)
	return err
}

func (p *Pair) callToken0(ctx context.Context, client *ethclient.Client, pair common.Address) (common.Address, error) {
	payload, err := pairABI.Pack("token0")
	if err != nil {
		return common.Address{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: payload}, nil)
	if err != nil {
		return common.Address{}, err
	}

	outputs, err := pairABI.Unpack("token0", res)
	if err != nil {
		return common.Address{}, err
	}
	if len(outputs) != 1 {
		return common.Address{}, errors.New("unexpected token0 response")
	}
	addr, ok := outputs[0].(common.Address)
	if !ok {
		return common.Address{}, errors.New("failed to decode token0 output")
	}
	return addr, nil
}

func (p *Pair) callGetReserves(ctx context.Context, client *ethclient.Client, pair common.Address) (*big.Int, *big.Int, error) {
	payload, err := pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: payload}, nil)
	if err != nil {
		return nil, nil, err
	}

	outputs, err := pairABI.Unpack("getReserves", res)
	if err != nil {
		return nil, nil, err
	}
	if len(outputs) != 3 {
		return nil, nil, errors.New("unexpected getReserves response")
	}

	reserve0, ok0 := outputs[0].(*big.Int)
	reserve1, ok1 := outputs[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, errors.New("failed to decode getReserves output")
	}
	return reserve0, reserve1, nil
}

func (p *Pair) getClient(ctx context.Context) (*ethclient.Client, error) {
	p.clientMux.Lock()
	defer p.clientMux.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	client, err := ethclient.DialContext(ctx, p.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

var _ Source = (*Pair)(nil)
