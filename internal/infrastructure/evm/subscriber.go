package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vote-relay/internal/config"
	"github.com/vote-relay/internal/domain"
)

// ErrSubscriptionClosed is reported when the node ends the subscription without an error.
var ErrSubscriptionClosed = errors.New("log subscription closed by node")

// logClient is the part of *ethclient.Client the subscriber needs.
type logClient interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	Close()
}

type dialFunc func(ctx context.Context, rawurl string) (logClient, error)

func dialEthclient(ctx context.Context, rawurl string) (logClient, error) {
	return ethclient.DialContext(ctx, rawurl)
}

// Subscriber opens websocket log subscriptions against governor contracts.
type Subscriber struct {
	decoder *Decoder
	log     *slog.Logger
	dial    dialFunc
}

func NewSubscriber(decoder *Decoder, logger *slog.Logger) *Subscriber {
	return &Subscriber{decoder: decoder, log: logger, dial: dialEthclient}
}

// Subscribe dials target.WSURL and streams decoded vote events from the governor.
func (s *Subscriber) Subscribe(ctx context.Context, target config.ChainConfig) (*Subscription, error) {
	client, err := s.dial(ctx, target.WSURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target.Chain, err)
	}
	q := ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(target.GovernorAddress)},
		Topics:    s.decoder.Topics(),
	}
	logs := make(chan types.Log, 64)
	sub, err := client.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("subscribe %s logs: %w", target.Chain, err)
	}

	out := &Subscription{
		events: make(chan domain.VoteEvent, 64),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		sub:    sub,
		client: client,
	}
	go out.pump(logs, target.Chain, s.decoder, s.log.With("chain", target.Chain))
	return out, nil
}

// Subscription is one live log stream. Events is closed when the stream ends.
type Subscription struct {
	events chan domain.VoteEvent
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	sub    ethereum.Subscription
	client logClient

	mu  sync.Mutex
	err error
}

func (s *Subscription) Events() <-chan domain.VoteEvent { return s.events }

// Err reports why the stream ended. It is nil after Unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe stops the stream and closes the RPC connection. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.sub.Unsubscribe()
		<-s.done
		s.client.Close()
	})
}

func (s *Subscription) pump(logs <-chan types.Log, chain domain.Chain, decoder *Decoder, logger *slog.Logger) {
	defer close(s.done)
	defer close(s.events)
	for {
		select {
		case <-s.quit:
			return
		case err := <-s.sub.Err():
			select {
			case <-s.quit:
				return
			default:
			}
			if err == nil {
				err = ErrSubscriptionClosed
			}
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		case lg := <-logs:
			if lg.Removed {
				continue
			}
			ev, err := decoder.Decode(chain, lg)
			if err != nil {
				logger.Warn("skipping undecodable governor log", "tx", lg.TxHash.Hex(), "err", err)
				continue
			}
			select {
			case s.events <- ev:
			case <-s.quit:
				return
			}
		}
	}
}
