package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/keyshop/internal/core/domain"
	"github.com/rl1809/keyshop/internal/port"
)

type NotificationService struct {
	store  port.DatabaseRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewNotificationService(store port.DatabaseRepository, logger *zap.Logger) *NotificationService {
	return &NotificationService{store: store, logger: logger, now: time.Now}
}

// MarkRead is idempotent; an already-read notification is not an error.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID int64, actor string) error {
	found, err := s.store.MarkNotificationRead(ctx, notificationID, actor, s.now().UTC().Truncate(time.Microsecond))
	if err != nil {
		s.logger.Error("mark notification read failed", zap.Int64("notification_id", notificationID), zap.Error(err))
		return fmt.Errorf("mark notification read: %w", err)
	}
	if !found {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (s *NotificationService) ListUnread(ctx context.Context) ([]domain.Notification, error) {
	items, err := s.store.ListUnreadNotifications(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unread notifications: %w", err)
	}
	return items, nil
}
