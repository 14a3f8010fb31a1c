package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"synthvault/native/synth"
)

const aggregatorV3ABI = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[
 {"internalType":"uint80","name":"roundId","type":"uint80"},
 {"internalType":"int256","name":"answer","type":"int256"},
 {"internalType":"uint256","name":"startedAt","type":"uint256"},
 {"internalType":"uint256","name":"updatedAt","type":"uint256"},
 {"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI = mustParseABI(aggregatorV3ABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ContractCaller is the read-only subset of the Ethereum RPC used by
// ChainlinkFeed.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DialRPC opens an Ethereum JSON-RPC client for endpoint.
func DialRPC(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("oracle: rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// ChainlinkFeed reads an AggregatorV3 price feed contract. Zero or negative
// answers and unset timestamps are passed through unchanged; the engine
// rejects them.
type ChainlinkFeed struct {
	client     ContractCaller
	aggregator common.Address
}

var _ synth.PriceSource = (*ChainlinkFeed)(nil)

// NewChainlinkFeed binds an aggregator contract at the hex address.
func NewChainlinkFeed(client ContractCaller, aggregator string) (*ChainlinkFeed, error) {
	if client == nil {
		return nil, fmt.Errorf("oracle: rpc client required")
	}
	aggregator = strings.TrimSpace(aggregator)
	if !common.IsHexAddress(aggregator) {
		return nil, fmt.Errorf("oracle: invalid aggregator address %q", aggregator)
	}
	return &ChainlinkFeed{client: client, aggregator: common.HexToAddress(aggregator)}, nil
}

func (f *ChainlinkFeed) ID() string { return f.aggregator.Hex() }

func (f *ChainlinkFeed) call(ctx context.Context, method string) ([]interface{}, error) {
	input, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}
	to := f.aggregator
	output, err := f.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: call %s on %s: %w", method, f.aggregator.Hex(), err)
	}
	values, err := aggregatorABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("oracle: decode %s: %w", method, err)
	}
	return values, nil
}

// Latest returns the answer and update time of the latest round.
func (f *ChainlinkFeed) Latest(ctx context.Context) (synth.Reading, error) {
	values, err := f.call(ctx, "latestRoundData")
	if err != nil {
		return synth.Reading{}, err
	}
	if len(values) != 5 {
		return synth.Reading{}, fmt.Errorf("oracle: latestRoundData returned %d values", len(values))
	}
	answer, ok := values[1].(*big.Int)
	if !ok {
		return synth.Reading{}, fmt.Errorf("oracle: unexpected answer type %T", values[1])
	}
	updatedAt, ok := values[3].(*big.Int)
	if !ok || !updatedAt.IsUint64() {
		return synth.Reading{}, fmt.Errorf("oracle: unexpected updatedAt %v", values[3])
	}
	return synth.Reading{Price: answer, UpdatedAt: updatedAt.Uint64()}, nil
}

// Decimals returns the aggregator's answer scale.
func (f *ChainlinkFeed) Decimals(ctx context.Context) (uint8, error) {
	values, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("oracle: decimals returned %d values", len(values))
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("oracle: unexpected decimals type %T", values[0])
	}
	return decimals, nil
}
