package evm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/vote-relay/internal/domain"
)

// governorABI holds the two vote events of an OpenZeppelin-style Governor.
const governorABI = `[
  {"anonymous":false,"name":"VoteCast","type":"event","inputs":[
    {"indexed":true,"name":"voter","type":"address"},
    {"indexed":false,"name":"proposalId","type":"uint256"},
    {"indexed":false,"name":"support","type":"uint8"},
    {"indexed":false,"name":"weight","type":"uint256"},
    {"indexed":false,"name":"reason","type":"string"}]},
  {"anonymous":false,"name":"VoteCastWithParams","type":"event","inputs":[
    {"indexed":true,"name":"voter","type":"address"},
    {"indexed":false,"name":"proposalId","type":"uint256"},
    {"indexed":false,"name":"support","type":"uint8"},
    {"indexed":false,"name":"weight","type":"uint256"},
    {"indexed":false,"name":"reason","type":"string"},
    {"indexed":false,"name":"params","type":"bytes"}]}
]`

var errUnknownEvent = errors.New("log is not a governor vote event")

// Decoder turns governor logs into VoteEvents.
type Decoder struct {
	abi          abi.ABI
	castID       common.Hash
	withParamsID common.Hash
	now          func() time.Time
}

func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(governorABI))
	if err != nil {
		return nil, fmt.Errorf("parse governor abi: %w", err)
	}
	return &Decoder{
		abi:          parsed,
		castID:       parsed.Events[domain.VariantVoteCast].ID,
		withParamsID: parsed.Events[domain.VariantVoteCastWithParams].ID,
		now:          time.Now,
	}, nil
}

// Topics is the topic filter matching either vote variant.
func (d *Decoder) Topics() [][]common.Hash {
	return [][]common.Hash{{d.castID, d.withParamsID}}
}

func (d *Decoder) Decode(chain domain.Chain, lg types.Log) (domain.VoteEvent, error) {
	if len(lg.Topics) < 2 {
		return domain.VoteEvent{}, errUnknownEvent
	}
	var variant string
	switch lg.Topics[0] {
	case d.castID:
		variant = domain.VariantVoteCast
	case d.withParamsID:
		variant = domain.VariantVoteCastWithParams
	default:
		return domain.VoteEvent{}, errUnknownEvent
	}

	values, err := d.abi.Unpack(variant, lg.Data)
	if err != nil {
		return domain.VoteEvent{}, fmt.Errorf("unpack %s: %w", variant, err)
	}
	if len(values) < 4 {
		return domain.VoteEvent{}, fmt.Errorf("unpack %s: got %d values", variant, len(values))
	}
	proposalID, ok1 := values[0].(*big.Int)
	support, ok2 := values[1].(uint8)
	weight, ok3 := values[2].(*big.Int)
	reason, ok4 := values[3].(string)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return domain.VoteEvent{}, fmt.Errorf("unpack %s: unexpected field types", variant)
	}

	return domain.VoteEvent{
		Chain:       chain,
		Voter:       domain.NormalizeAddress(common.BytesToAddress(lg.Topics[1].Bytes()).Hex()),
		ProposalID:  proposalID.String(),
		Support:     domain.Support(support),
		Weight:      weight.String(),
		Reason:      reason,
		Variant:     variant,
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		ObservedAt:  d.now(),
	}, nil
}
