package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vote-relay/internal/config"
	"github.com/vote-relay/internal/domain"
	"github.com/vote-relay/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Status is the lifecycle state of one chain's subscription.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusListening  Status = "listening"
	StatusFailed     Status = "failed"
	StatusDropped    Status = "dropped"
	StatusStopped    Status = "stopped"
)

// Subscription is a live stream of decoded vote events.
// Events is closed when the stream ends; Err then reports why.
type Subscription interface {
	Events() <-chan domain.VoteEvent
	Err() error
	Unsubscribe()
}

// Subscriber opens a Subscription for one chain.
type Subscriber interface {
	Subscribe(ctx context.Context, target config.ChainConfig) (Subscription, error)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, target config.ChainConfig) (Subscription, error)

func (f SubscriberFunc) Subscribe(ctx context.Context, target config.ChainConfig) (Subscription, error) {
	return f(ctx, target)
}

// Handler processes one vote event. It runs on its own goroutine.
type Handler func(ctx context.Context, ev domain.VoteEvent)

type chainState struct {
	cancel context.CancelFunc
	done   chan struct{}
	status Status
}

// Listener keeps one subscription per configured chain and hands every
// decoded event to a Handler.
type Listener struct {
	sub     Subscriber
	targets []config.ChainConfig
	cfg     config.ListenerConfig
	handle  Handler
	metrics *observability.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	started bool
	chains  map[domain.Chain]*chainState
}

func New(sub Subscriber, targets []config.ChainConfig, cfg config.ListenerConfig, handle Handler,
	metrics *observability.Metrics, logger *slog.Logger) *Listener {
	return &Listener{
		sub:     sub,
		targets: targets,
		cfg:     cfg,
		handle:  handle,
		metrics: metrics,
		log:     logger,
		chains:  make(map[domain.Chain]*chainState),
	}
}

// Start launches a subscription loop per chain and returns immediately.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return errors.New("listener already started")
	}
	l.started = true
	for _, t := range l.targets {
		cctx, cancel := context.WithCancel(ctx)
		st := &chainState{cancel: cancel, done: make(chan struct{}), status: StatusConnecting}
		l.chains[t.Chain] = st
		go l.run(cctx, t, st)
	}
	return nil
}

// Stop tears down every chain, cancels in-flight handlers and waits for them to return.
func (l *Listener) Stop() {
	l.mu.Lock()
	states := make([]*chainState, 0, len(l.chains))
	for _, st := range l.chains {
		st.cancel()
		states = append(states, st)
	}
	l.mu.Unlock()
	for _, st := range states {
		<-st.done
	}
}

// StopChain tears down one chain and cancels its in-flight handlers without touching the others.
func (l *Listener) StopChain(chain domain.Chain) error {
	l.mu.Lock()
	st, ok := l.chains[chain]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("chain %s: %w", chain, domain.ErrNotFound)
	}
	st.cancel()
	<-st.done
	return nil
}

// Status reports the state of chain; false if it was never started.
func (l *Listener) Status(chain domain.Chain) (Status, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.chains[chain]
	if !ok {
		return "", false
	}
	return st.status, true
}

func (l *Listener) setStatus(chain domain.Chain, s Status) {
	l.mu.Lock()
	if st, ok := l.chains[chain]; ok {
		st.status = s
	}
	l.mu.Unlock()
	l.metrics.SetListenerUp(string(chain), s == StatusListening)
}

func (l *Listener) run(ctx context.Context, target config.ChainConfig, st *chainState) {
	defer close(st.done)
	log := l.log.With("chain", target.Chain)

	g := new(errgroup.Group)
	g.SetLimit(l.cfg.MaxConcurrency)
	defer func() { _ = g.Wait() }()

	for {
		sub, ok := l.establish(ctx, target, log)
		if !ok {
			return
		}
		l.setStatus(target.Chain, StatusListening)
		log.Info("listening for vote events", "governor", target.GovernorAddress)

		dropped := l.consume(ctx, sub, g, target.Chain)
		sub.Unsubscribe()
		if !dropped {
			l.setStatus(target.Chain, StatusStopped)
			log.Info("chain listener stopped")
			return
		}

		l.setStatus(target.Chain, StatusDropped)
		log.Error("vote subscription dropped", "err", sub.Err(), "resubscribe", l.cfg.Resubscribe)
		if !l.cfg.Resubscribe {
			return
		}
	}
}

// establish subscribes once plus up to MaxRetries retries at a fixed interval.
func (l *Listener) establish(ctx context.Context, target config.ChainConfig, log *slog.Logger) (Subscription, bool) {
	for attempt := 0; ; attempt++ {
		l.setStatus(target.Chain, StatusConnecting)
		sub, err := l.sub.Subscribe(ctx, target)
		l.metrics.ListenerAttempt(string(target.Chain), err == nil)
		if err == nil {
			return sub, true
		}
		if ctx.Err() != nil {
			l.setStatus(target.Chain, StatusStopped)
			return nil, false
		}
		if attempt >= l.cfg.MaxRetries {
			l.setStatus(target.Chain, StatusFailed)
			log.Error("max retries reached, giving up on chain", "attempts", attempt+1, "err", err)
			return nil, false
		}
		log.Warn("subscription failed, retrying",
			"attempt", attempt+1, "retry_in", l.cfg.RetryInterval, "err", err)

		timer := time.NewTimer(l.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.setStatus(target.Chain, StatusStopped)
			return nil, false
		case <-timer.C:
		}
	}
}

// consume pumps events until the stream ends (true) or ctx is cancelled (false).
// Handlers share ctx, so stopping the chain cancels the ones in flight.
func (l *Listener) consume(ctx context.Context, sub Subscription, g *errgroup.Group, chain domain.Chain) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.Events():
			if !ok {
				return ctx.Err() == nil
			}
			l.metrics.VoteObserved(string(chain), ev.Variant)
			g.Go(func() error {
				l.handle(ctx, ev)
				return nil
			})
		}
	}
}
