package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/vote-relay/internal/application/notification"
	"github.com/vote-relay/internal/domain"
)

type mockResolver struct{ mock.Mock }

func (m *mockResolver) Resolve(ctx context.Context, voter string, chain domain.Chain) (*domain.DelegateSet, bool) {
	args := m.Called(ctx, voter, chain)
	set, _ := args.Get(0).(*domain.DelegateSet)
	return set, args.Bool(1)
}

type mockRouter struct{ mock.Mock }

func (m *mockRouter) Route(ctx context.Context, ev domain.VoteEvent, set *domain.DelegateSet) notification.Result {
	args := m.Called(ctx, ev, set)
	return args.Get(0).(notification.Result)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var ev = domain.VoteEvent{Chain: domain.ChainArbitrum, Voter: "0xa", ProposalID: "P1", Support: domain.SupportFor}

func TestHandleVote_RoutesResolvedSet(t *testing.T) {
	set := &domain.DelegateSet{Voter: "0xa", Chain: domain.ChainArbitrum, Delegators: []string{"0xb"}}
	res := &mockResolver{}
	res.On("Resolve", mock.Anything, "0xa", domain.ChainArbitrum).Return(set, true)
	rt := &mockRouter{}
	rt.On("Route", mock.Anything, ev, set).Return(notification.Result{Matched: 1})

	New(res, rt, discard()).HandleVote(context.Background(), ev)
	rt.AssertExpectations(t)
}

func TestHandleVote_AbsentSetShortCircuits(t *testing.T) {
	res := &mockResolver{}
	res.On("Resolve", mock.Anything, "0xa", domain.ChainArbitrum).Return(nil, false)
	rt := &mockRouter{}

	New(res, rt, discard()).HandleVote(context.Background(), ev)
	rt.AssertNotCalled(t, "Route", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleVote_EmptySetSkipsRouting(t *testing.T) {
	res := &mockResolver{}
	res.On("Resolve", mock.Anything, "0xa", domain.ChainArbitrum).
		Return(&domain.DelegateSet{Delegators: []string{}}, true)
	rt := &mockRouter{}

	New(res, rt, discard()).HandleVote(context.Background(), ev)
	rt.AssertNotCalled(t, "Route", mock.Anything, mock.Anything, mock.Anything)
}
