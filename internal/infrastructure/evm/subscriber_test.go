package evm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vote-relay/internal/config"
	"github.com/vote-relay/internal/domain"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSub struct {
	errc         chan error
	unsubscribed atomic.Bool
}

func (s *fakeSub) Err() <-chan error { return s.errc }
func (s *fakeSub) Unsubscribe()      { s.unsubscribed.Store(true) }

type fakeClient struct {
	sub    *fakeSub
	subErr error
	logs   chan<- types.Log
	query  ethereum.FilterQuery
	closed atomic.Bool
}

func (c *fakeClient) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if c.subErr != nil {
		return nil, c.subErr
	}
	c.query, c.logs = q, ch
	return c.sub, nil
}
func (c *fakeClient) Close() { c.closed.Store(true) }

func newTestSubscriber(t *testing.T, client *fakeClient, dialErr error) *Subscriber {
	t.Helper()
	s := NewSubscriber(newTestDecoder(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.dial = func(context.Context, string) (logClient, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return client, nil
	}
	return s
}

var target = config.ChainConfig{
	Chain:           domain.ChainArbitrum,
	WSURL:           "wss://node.test",
	GovernorAddress: "0x789fC99093B09aD01C34DC7251D0C89ce743e5a4",
}

func TestSubscribe_DeliversDecodedEvents(t *testing.T) {
	client := &fakeClient{sub: &fakeSub{errc: make(chan error, 1)}}
	s := newTestSubscriber(t, client, nil)

	sub, err := s.Subscribe(context.Background(), target)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	assert.Equal(t, []common.Address{common.HexToAddress(target.GovernorAddress)}, client.query.Addresses)

	client.logs <- types.Log{Topics: []common.Hash{common.HexToHash("0xdead"), {}}}
	removed := voteLog(t, s.decoder, domain.VariantVoteCast, big.NewInt(1), uint8(1), big.NewInt(1), "")
	removed.Removed = true
	client.logs <- removed
	client.logs <- voteLog(t, s.decoder, domain.VariantVoteCast, big.NewInt(2), uint8(1), big.NewInt(1), "")

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "2", ev.ProposalID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSubscribe_DropClosesEventsWithError(t *testing.T) {
	client := &fakeClient{sub: &fakeSub{errc: make(chan error, 1)}}
	s := newTestSubscriber(t, client, nil)
	sub, err := s.Subscribe(context.Background(), target)
	require.NoError(t, err)

	client.sub.errc <- errors.New("websocket: close 1006")

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.ErrorContains(t, sub.Err(), "1006")

	sub.Unsubscribe()
	assert.True(t, client.closed.Load())
}

func TestSubscribe_NilErrReportsClosed(t *testing.T) {
	client := &fakeClient{sub: &fakeSub{errc: make(chan error)}}
	s := newTestSubscriber(t, client, nil)
	sub, err := s.Subscribe(context.Background(), target)
	require.NoError(t, err)

	close(client.sub.errc)
	for range sub.Events() {
	}
	assert.ErrorIs(t, sub.Err(), ErrSubscriptionClosed)
	sub.Unsubscribe()
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	client := &fakeClient{sub: &fakeSub{errc: make(chan error, 1)}}
	s := newTestSubscriber(t, client, nil)
	sub, err := s.Subscribe(context.Background(), target)
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe()
	assert.True(t, client.sub.unsubscribed.Load())
	assert.True(t, client.closed.Load())
	assert.NoError(t, sub.Err())
}

func TestSubscribe_DialError(t *testing.T) {
	s := newTestSubscriber(t, nil, errors.New("no route to host"))
	_, err := s.Subscribe(context.Background(), target)
	assert.ErrorContains(t, err, "dial arbitrum")
}

func TestSubscribe_SubscribeErrorClosesClient(t *testing.T) {
	client := &fakeClient{subErr: errors.New("notifications not supported")}
	s := newTestSubscriber(t, client, nil)
	_, err := s.Subscribe(context.Background(), target)
	assert.ErrorContains(t, err, "subscribe arbitrum logs")
	assert.True(t, client.closed.Load())
}
