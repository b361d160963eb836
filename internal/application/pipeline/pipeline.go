package pipeline

import (
	"context"
	"log/slog"

	"github.com/vote-relay/internal/application/notification"
	"github.com/vote-relay/internal/domain"
)

type delegateResolver interface {
	Resolve(ctx context.Context, voter string, chain domain.Chain) (*domain.DelegateSet, bool)
}

type voteRouter interface {
	Route(ctx context.Context, ev domain.VoteEvent, set *domain.DelegateSet) notification.Result
}

// Pipeline connects decoded votes to notification routing.
type Pipeline struct {
	resolver delegateResolver
	router   voteRouter
	log      *slog.Logger
}

func New(resolver delegateResolver, router voteRouter, logger *slog.Logger) *Pipeline {
	return &Pipeline{resolver: resolver, router: router, log: logger}
}

// HandleVote resolves the voter's delegators and routes the vote to them.
// An absent delegate set ends processing for this event.
func (p *Pipeline) HandleVote(ctx context.Context, ev domain.VoteEvent) {
	p.log.Info("vote observed",
		"chain", ev.Chain, "voter", ev.Voter, "proposal", ev.ProposalID,
		"support", ev.Support.String(), "variant", ev.Variant, "tx", ev.TxHash)

	set, ok := p.resolver.Resolve(ctx, ev.Voter, ev.Chain)
	if !ok {
		return
	}
	if len(set.Delegators) == 0 {
		p.log.Debug("voter has no delegators", "chain", ev.Chain, "voter", ev.Voter)
		return
	}
	p.router.Route(ctx, ev, set)
}
