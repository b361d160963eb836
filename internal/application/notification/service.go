package notification

import (
	"context"
	"fmt"

	"github.com/vote-relay/internal/domain"
)

// RecentLimit is how many unread notifications a host sees on registration.
const RecentLimit = 10

// MaxListLimit caps ListUnread page sizes.
const MaxListLimit = 100

type Service interface {
	ListUnread(ctx context.Context, receiver string, limit int) ([]domain.Notification, error)
	RecentUnread(ctx context.Context, receiver string) ([]domain.Notification, error)
	MarkAsRead(ctx context.Context, notificationID, receiver string) (*domain.Notification, error)
}

type notificationStore interface {
	ListUnread(ctx context.Context, receiver string, limit int) ([]domain.Notification, error)
	Get(ctx context.Context, notificationID string) (*domain.Notification, error)
	MarkAsRead(ctx context.Context, notificationID string) (*domain.Notification, error)
}

type service struct {
	repo notificationStore
}

func NewService(repo notificationStore) Service {
	return &service{repo: repo}
}

// ListUnread returns up to limit unread notifications, newest first.
func (s *service) ListUnread(ctx context.Context, receiver string, limit int) ([]domain.Notification, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.repo.ListUnread(ctx, domain.NormalizeAddress(receiver), limit)
}

func (s *service) RecentUnread(ctx context.Context, receiver string) ([]domain.Notification, error) {
	return s.repo.ListUnread(ctx, domain.NormalizeAddress(receiver), RecentLimit)
}

func (s *service) MarkAsRead(ctx context.Context, notificationID, receiver string) (*domain.Notification, error) {
	n, err := s.repo.Get(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n.ReceiverAddress != domain.NormalizeAddress(receiver) {
		return nil, fmt.Errorf("forbidden: %w", domain.ErrForbidden)
	}
	return s.repo.MarkAsRead(ctx, notificationID)
}
