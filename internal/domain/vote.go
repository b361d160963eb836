package domain

import (
	"strings"
	"time"
)

// Chain identifies a governance chain the relay listens to.
type Chain string

const (
	ChainArbitrum Chain = "arbitrum"
	ChainOptimism Chain = "optimism"
)

// Support mirrors the Governor `support` argument.
type Support uint8

const (
	SupportAgainst Support = 0
	SupportFor     Support = 1
	SupportAbstain Support = 2
)

func (s Support) String() string {
	switch s {
	case SupportAgainst:
		return "Against"
	case SupportFor:
		return "For"
	case SupportAbstain:
		return "Abstain"
	default:
		return "Unknown"
	}
}

// Event variant names as emitted by the governor contract.
const (
	VariantVoteCast           = "VoteCast"
	VariantVoteCastWithParams = "VoteCastWithParams"
)

// VoteEvent is one decoded vote. Both contract variants map onto it.
type VoteEvent struct {
	Chain       Chain
	Voter       string
	ProposalID  string
	Support     Support
	Weight      string
	Reason      string
	Variant     string
	TxHash      string
	BlockNumber uint64
	ObservedAt  time.Time
}

// DeliveryKey identifies one (vote, receiver) pair independent of which
// event variant produced it.
func (e VoteEvent) DeliveryKey(receiver string) string {
	return strings.Join([]string{
		string(e.Chain),
		e.ProposalID,
		NormalizeAddress(e.Voter),
		NormalizeAddress(receiver),
	}, "|")
}

// DelegateSet is the delegator set of a voter as reported by the index.
type DelegateSet struct {
	Voter      string
	Chain      Chain
	Delegators []string
	AsOf       time.Time
}

// NormalizeAddress lower-cases an EVM address and trims whitespace.
// Every chain the relay supports is EVM-based, so one convention applies.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
