package resolver

import (
	"context"
	"log/slog"
	"time"

	"github.com/vote-relay/internal/domain"
	"github.com/vote-relay/internal/observability"
)

// DelegateSource answers "who delegates to address" for one chain.
type DelegateSource interface {
	Delegators(ctx context.Context, address string) ([]string, error)
}

// Resolver looks up delegator sets on the index of the vote's chain.
type Resolver struct {
	sources map[domain.Chain]DelegateSource
	log     *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func New(sources map[domain.Chain]DelegateSource, logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	return &Resolver{sources: sources, log: logger, metrics: metrics, now: time.Now}
}

// Resolve returns the delegator set of voter on chain. The boolean is false
// when the index could not be asked or failed; an address nobody delegates
// to yields an empty set and true.
func (r *Resolver) Resolve(ctx context.Context, voter string, chain domain.Chain) (*domain.DelegateSet, bool) {
	voter = domain.NormalizeAddress(voter)
	src, ok := r.sources[chain]
	if !ok {
		r.log.Warn("no delegate index configured", "chain", chain, "voter", voter)
		r.metrics.DelegateResolution(string(chain), "absent")
		return nil, false
	}

	delegators, err := src.Delegators(ctx, voter)
	if err != nil {
		r.log.Error("delegate lookup failed", "chain", chain, "voter", voter, "err", err)
		r.metrics.DelegateResolution(string(chain), "absent")
		return nil, false
	}
	if delegators == nil {
		delegators = []string{}
	}

	outcome := "ok"
	if len(delegators) == 0 {
		outcome = "empty"
	}
	r.metrics.DelegateResolution(string(chain), outcome)
	return &domain.DelegateSet{
		Voter:      voter,
		Chain:      chain,
		Delegators: delegators,
		AsOf:       r.now(),
	}, true
}
