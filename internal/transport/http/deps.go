package http

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vote-relay/internal/application/listener"
	"github.com/vote-relay/internal/domain"
	"github.com/vote-relay/internal/infrastructure/dynamo"
	jwtinfra "github.com/vote-relay/internal/infrastructure/jwt"
	"github.com/vote-relay/internal/observability"
)

// NotificationRepository is the minimal interface the router requires from a notification store.
type NotificationRepository interface {
	ListUnread(ctx context.Context, receiver string, limit int) ([]domain.Notification, error)
	Get(ctx context.Context, notificationID string) (*domain.Notification, error)
	MarkAsRead(ctx context.Context, notificationID string) (*domain.Notification, error)
}

// ListenerStatus reports the subscription state of a chain.
type ListenerStatus interface {
	Status(chain domain.Chain) (listener.Status, bool)
}

// Socket is the live connection hub mounted at /ws.
type Socket interface {
	http.Handler
	Len() int
}

// QueueDepth reports how many deliveries await retry.
type QueueDepth interface {
	Len() int
}

var _ NotificationRepository = (*dynamo.NotificationRepo)(nil)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	NotificationRepo NotificationRepository
	JWTProvider      *jwtinfra.Provider
	Hub              Socket
	Listener         ListenerStatus
	RetryQueue       QueueDepth
	Metrics          *observability.Metrics
	Gatherer         prometheus.Gatherer
}
