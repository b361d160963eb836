package evm

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vote-relay/internal/domain"
)

const voterHex = "0xAbCdEf0123456789aBcDeF0123456789AbCdEf01"

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder()
	require.NoError(t, err)
	d.now = func() time.Time { return time.Unix(1700000000, 0) }
	return d
}

func voteLog(t *testing.T, d *Decoder, variant string, args ...interface{}) types.Log {
	t.Helper()
	data, err := d.abi.Events[variant].Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)
	return types.Log{
		Topics: []common.Hash{
			d.abi.Events[variant].ID,
			common.BytesToHash(common.HexToAddress(voterHex).Bytes()),
		},
		Data:        data,
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: 123,
	}
}

func TestDecode_VoteCast(t *testing.T) {
	d := newTestDecoder(t)
	lg := voteLog(t, d, domain.VariantVoteCast, big.NewInt(42), uint8(1), big.NewInt(1000), "lgtm")

	ev, err := d.Decode(domain.ChainArbitrum, lg)
	require.NoError(t, err)
	assert.Equal(t, domain.ChainArbitrum, ev.Chain)
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", ev.Voter)
	assert.Equal(t, "42", ev.ProposalID)
	assert.Equal(t, domain.SupportFor, ev.Support)
	assert.Equal(t, "1000", ev.Weight)
	assert.Equal(t, "lgtm", ev.Reason)
	assert.Equal(t, domain.VariantVoteCast, ev.Variant)
	assert.Equal(t, uint64(123), ev.BlockNumber)
	assert.Equal(t, time.Unix(1700000000, 0), ev.ObservedAt)
}

func TestDecode_VoteCastWithParams(t *testing.T) {
	d := newTestDecoder(t)
	lg := voteLog(t, d, domain.VariantVoteCastWithParams,
		big.NewInt(7), uint8(2), big.NewInt(5), "", []byte{0x01, 0x02})

	ev, err := d.Decode(domain.ChainOptimism, lg)
	require.NoError(t, err)
	assert.Equal(t, domain.VariantVoteCastWithParams, ev.Variant)
	assert.Equal(t, domain.SupportAbstain, ev.Support)
	assert.Equal(t, "7", ev.ProposalID)
}

func TestDecode_BothVariantsShareDeliveryKey(t *testing.T) {
	d := newTestDecoder(t)
	a, err := d.Decode(domain.ChainArbitrum,
		voteLog(t, d, domain.VariantVoteCast, big.NewInt(9), uint8(0), big.NewInt(1), ""))
	require.NoError(t, err)
	b, err := d.Decode(domain.ChainArbitrum,
		voteLog(t, d, domain.VariantVoteCastWithParams, big.NewInt(9), uint8(0), big.NewInt(1), "", []byte{}))
	require.NoError(t, err)

	assert.Equal(t, a.DeliveryKey("0xB"), b.DeliveryKey("0xb"))
}

func TestDecode_UnknownTopic(t *testing.T) {
	d := newTestDecoder(t)
	lg := types.Log{Topics: []common.Hash{common.HexToHash("0xdead"), common.HexToHash("0x01")}}
	_, err := d.Decode(domain.ChainArbitrum, lg)
	assert.ErrorIs(t, err, errUnknownEvent)
}

func TestDecode_MissingVoterTopic(t *testing.T) {
	d := newTestDecoder(t)
	lg := types.Log{Topics: []common.Hash{d.castID}}
	_, err := d.Decode(domain.ChainArbitrum, lg)
	assert.ErrorIs(t, err, errUnknownEvent)
}

func TestDecode_TruncatedData(t *testing.T) {
	d := newTestDecoder(t)
	lg := voteLog(t, d, domain.VariantVoteCast, big.NewInt(42), uint8(1), big.NewInt(1000), "lgtm")
	lg.Data = lg.Data[:40]
	_, err := d.Decode(domain.ChainArbitrum, lg)
	assert.Error(t, err)
}

func TestTopics_MatchesBothVariants(t *testing.T) {
	d := newTestDecoder(t)
	topics := d.Topics()
	require.Len(t, topics, 1)
	assert.ElementsMatch(t, []common.Hash{d.castID, d.withParamsID}, topics[0])
}
