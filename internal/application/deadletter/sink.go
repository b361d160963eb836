package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vote-relay/internal/domain"
)

// Reasons a delivery is abandoned.
const (
	ReasonExpired  = "expired"
	ReasonOverflow = "overflow"
)

// Letter is an abandoned delivery handed to a Sink.
type Letter struct {
	Item   domain.RetryItem `json:"item"`
	Reason string           `json:"reason"`
	At     time.Time        `json:"at"`
}

// Sink receives deliveries the retry queue gave up on.
type Sink interface {
	DeadLetter(ctx context.Context, l Letter) error
}

// LogSink writes letters to the process log.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{log: logger}
}

func (s *LogSink) DeadLetter(_ context.Context, l Letter) error {
	s.log.Error("delivery abandoned",
		"reason", l.Reason,
		"notification_id", l.Item.Notification.NotificationID,
		"receiver", l.Item.Notification.ReceiverAddress,
		"attempts", l.Item.Attempts,
		"last_error", l.Item.LastError)
	return nil
}

type topicPublisher interface {
	Publish(ctx context.Context, subject, message string) error
}

// SNSSink publishes each letter as JSON to an SNS topic.
type SNSSink struct {
	pub topicPublisher
}

func NewSNSSink(pub topicPublisher) *SNSSink {
	return &SNSSink{pub: pub}
}

func (s *SNSSink) DeadLetter(ctx context.Context, l Letter) error {
	body, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	subject := fmt.Sprintf("relay dead letter (%s) for %s", l.Reason, l.Item.Notification.ReceiverAddress)
	return s.pub.Publish(ctx, subject, string(body))
}

type objectArchive interface {
	PutJSON(ctx context.Context, key string, body []byte) (string, error)
}

// S3Sink archives each letter as a JSON object keyed by date and notification id.
type S3Sink struct {
	archive objectArchive
}

func NewS3Sink(archive objectArchive) *S3Sink {
	return &S3Sink{archive: archive}
}

func (s *S3Sink) DeadLetter(ctx context.Context, l Letter) error {
	body, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	key := fmt.Sprintf("%s/%s-%s.json",
		l.At.UTC().Format("2006/01/02"), l.Item.Notification.NotificationID, l.Reason)
	_, err = s.archive.PutJSON(ctx, key, body)
	return err
}

// Multi fans a letter out to every sink and joins their errors.
type Multi []Sink

func (m Multi) DeadLetter(ctx context.Context, l Letter) error {
	var errs []error
	for _, s := range m {
		if err := s.DeadLetter(ctx, l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
