package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/vote-relay/internal/domain"
	"github.com/vote-relay/internal/observability"
	"github.com/vote-relay/internal/pkg/id"
)

const (
	proposalVoteTemplate  = "proposalVote"
	voteNotificationName  = "Vote cast"
	voteNotificationTitle = "casted vote"
)

type notificationWriter interface {
	Put(ctx context.Context, n *domain.Notification) error
}

type userDirectory interface {
	AllAddresses(ctx context.Context) ([]string, error)
	GetByAddress(ctx context.Context, address string) (*domain.Delegate, error)
}

type channelLookup interface {
	Lookup(address string, role domain.Role) (string, bool)
}

type pusher interface {
	Push(channelID, event string, payload interface{}) error
}

type emailSender interface {
	SendTemplatedEmail(ctx context.Context, msg domain.EmailMessage) error
}

type retryEnqueuer interface {
	Enqueue(item domain.RetryItem) error
}

// Result summarises one Route call.
type Result struct {
	Matched   int
	Pushed    int
	Emailed   int
	Queued    int
	Duplicate int
	NoEmail   int
	Failed    int
}

// RouterDeps are the collaborators of a Router.
type RouterDeps struct {
	Store    notificationWriter
	Users    userDirectory
	Registry channelLookup
	Pusher   pusher
	Mailer   emailSender
	Retry    retryEnqueuer
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Router turns a vote and its delegator set into per-recipient deliveries.
type Router struct {
	store         notificationWriter
	users         userDirectory
	registry      channelLookup
	pusher        pusher
	mailer        emailSender
	retry         retryEnqueuer
	metrics       *observability.Metrics
	log           *slog.Logger
	seen          *lru.Cache
	retryInterval time.Duration
	now           func() time.Time
}

// NewRouter builds a Router remembering up to dedupSize delivered (vote, receiver) pairs.
func NewRouter(deps RouterDeps, dedupSize int, retryInterval time.Duration) (*Router, error) {
	seen, err := lru.New(dedupSize)
	if err != nil {
		return nil, fmt.Errorf("dedup cache: %w", err)
	}
	return &Router{
		store:         deps.Store,
		users:         deps.Users,
		registry:      deps.Registry,
		pusher:        deps.Pusher,
		mailer:        deps.Mailer,
		retry:         deps.Retry,
		metrics:       deps.Metrics,
		log:           deps.Logger,
		seen:          seen,
		retryInterval: retryInterval,
		now:           time.Now,
	}, nil
}

// Route delivers ev to every delegator in set that is a known user.
// Failures for one recipient never stop the others.
func (r *Router) Route(ctx context.Context, ev domain.VoteEvent, set *domain.DelegateSet) Result {
	var res Result
	if set == nil || len(set.Delegators) == 0 {
		return res
	}

	known, err := r.users.AllAddresses(ctx)
	if err != nil {
		r.log.Error("load known users", "chain", ev.Chain, "proposal", ev.ProposalID, "err", err)
		return res
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, a := range known {
		knownSet[domain.NormalizeAddress(a)] = struct{}{}
	}

	visited := make(map[string]struct{}, len(set.Delegators))
	for _, d := range set.Delegators {
		addr := domain.NormalizeAddress(d)
		if _, ok := knownSet[addr]; !ok {
			continue
		}
		if _, ok := visited[addr]; ok {
			continue
		}
		visited[addr] = struct{}{}
		res.Matched++
		r.deliver(ctx, ev, addr, &res)
	}

	r.log.Info("vote routed",
		"chain", ev.Chain, "proposal", ev.ProposalID, "voter", ev.Voter,
		"matched", res.Matched, "pushed", res.Pushed, "emailed", res.Emailed,
		"queued", res.Queued, "duplicate", res.Duplicate, "failed", res.Failed)
	return res
}

func (r *Router) deliver(ctx context.Context, ev domain.VoteEvent, receiver string, res *Result) {
	key := ev.DeliveryKey(receiver)
	if found, _ := r.seen.ContainsOrAdd(key, struct{}{}); found {
		res.Duplicate++
		r.metrics.DuplicateSkipped()
		return
	}

	n := r.buildNotification(ev, receiver)
	if err := r.store.Put(ctx, &n); err != nil {
		r.seen.Remove(key)
		res.Failed++
		r.log.Error("persist notification", "receiver", receiver, "proposal", ev.ProposalID, "err", err)
		return
	}
	r.metrics.NotificationPersisted(string(n.Type))

	if r.pushLive(n) {
		res.Pushed++
		return
	}

	user, err := r.users.GetByAddress(ctx, receiver)
	if err != nil || user.EmailID == "" {
		res.NoEmail++
		r.log.Debug("no live channel and no email", "receiver", receiver, "err", err)
		return
	}

	msg := buildEmail(ev, n, user.EmailID)
	if err := r.mailer.SendTemplatedEmail(ctx, msg); err != nil {
		r.metrics.Delivery("email", err)
		r.log.Warn("email delivery failed, queueing retry", "receiver", receiver, "err", err)
		item := domain.RetryItem{
			Notification:  n,
			Email:         msg,
			NextAttemptAt: r.now().Add(r.retryInterval),
			LastError:     err.Error(),
		}
		if qerr := r.retry.Enqueue(item); qerr != nil {
			res.Failed++
			return
		}
		res.Queued++
		return
	}
	r.metrics.Delivery("email", nil)
	res.Emailed++
}

// pushLive pushes n to the receiver's host channel if one is registered.
// A push error means the channel went stale; it is logged and the
// notification still counts as delivered since it is persisted unread.
func (r *Router) pushLive(n domain.Notification) bool {
	ch, ok := r.registry.Lookup(n.ReceiverAddress, domain.RoleHost)
	if !ok {
		return false
	}
	err := r.pusher.Push(ch, domain.EventNewNotification, n)
	r.metrics.Delivery("push", err)
	if err != nil {
		r.log.Warn("push to stale channel", "receiver", n.ReceiverAddress, "channel", ch, "err", err)
	}
	return true
}

// Redeliver re-attempts one queued delivery: a live push if the receiver
// has come online, otherwise the email again.
func (r *Router) Redeliver(ctx context.Context, item domain.RetryItem) error {
	if ch, ok := r.registry.Lookup(item.Notification.ReceiverAddress, domain.RoleHost); ok {
		err := r.pusher.Push(ch, domain.EventNewNotification, item.Notification)
		r.metrics.Delivery("push", err)
		if err == nil {
			return nil
		}
	}
	if item.Email.To == "" {
		return domain.ErrNoEmail
	}
	err := r.mailer.SendTemplatedEmail(ctx, item.Email)
	r.metrics.Delivery("email", err)
	return err
}

func (r *Router) buildNotification(ev domain.VoteEvent, receiver string) domain.Notification {
	now := r.now()
	return domain.Notification{
		NotificationID:  id.NewAt(now),
		ReceiverAddress: receiver,
		Content:         fmt.Sprintf("New Vote cast detected for address %s", ev.Voter),
		CreatedAt:       now.UnixMilli(),
		ReadStatus:      false,
		Name:            voteNotificationName,
		Title:           voteNotificationTitle,
		Type:            domain.NotificationProposalVote,
		AdditionalData: map[string]interface{}{
			"chain":      string(ev.Chain),
			"proposalId": ev.ProposalID,
			"voter":      ev.Voter,
			"support":    ev.Support.String(),
			"txHash":     ev.TxHash,
		},
	}
}

func buildEmail(ev domain.VoteEvent, n domain.Notification, to string) domain.EmailMessage {
	voteContent := fmt.Sprintf("Proposal %s on %s: voted %s", ev.ProposalID, ev.Chain, ev.Support)
	if ev.Reason != "" {
		voteContent += fmt.Sprintf(" (%q)", ev.Reason)
	}
	return domain.EmailMessage{
		To:       to,
		Subject:  fmt.Sprintf("New vote cast on %s", ev.Chain),
		Template: proposalVoteTemplate,
		TemplateData: map[string]string{
			"title":       n.Title,
			"content":     n.Content,
			"VoteContent": voteContent,
			"endContent":  fmt.Sprintf("You receive this because you delegate to %s.", ev.Voter),
		},
	}
}
