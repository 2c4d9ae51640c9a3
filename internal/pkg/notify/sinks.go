package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
)

// DBSink stores messages as in-app notifications.
type DBSink struct {
	factory *repository.Factory
}

func NewDBSink(factory *repository.Factory) *DBSink {
	return &DBSink{factory: factory}
}

func (s *DBSink) Name() string { return "db" }

func (s *DBSink) Deliver(ctx context.Context, msg Message) error {
	n := &models.Notification{
		AccountID: msg.AccountID,
		Type:      msg.Type,
		Title:     msg.Title,
		Body:      msg.Body,
		Link:      msg.Link,
	}
	if err := s.factory.WithContext(ctx).Notification.Create(n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes messages as JSON events keyed by account id so all
// events of one account land on the same partition.
type KafkaSink struct {
	writer messageWriter
}

// event is the wire format on the notification topic.
type event struct {
	Message
	OccurredAt time.Time `json:"occurred_at"`
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, msg Message) error {
	value, err := json.Marshal(event{Message: msg, OccurredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(msg.AccountID), 10)),
		Value: value,
	})
}

// Close closes the underlying Kafka writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// Mailer sends one email.
type Mailer interface {
	SendMail(to, subject, body string) error
}

// EmailSink mails the message to the address on the account.
type EmailSink struct {
	factory *repository.Factory
	mailer  Mailer
	baseURL string
}

// NewEmailSink creates the sink. baseURL prefixes relative message links.
func NewEmailSink(factory *repository.Factory, mailer Mailer, baseURL string) *EmailSink {
	return &EmailSink{factory: factory, mailer: mailer, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Deliver(ctx context.Context, msg Message) error {
	account, err := s.factory.WithContext(ctx).Account.GetByID(msg.AccountID)
	if err != nil {
		return fmt.Errorf("load recipient %d: %w", msg.AccountID, err)
	}
	if account.Email == "" {
		return nil
	}

	body := msg.Body
	if msg.Link != "" {
		link := msg.Link
		if strings.HasPrefix(link, "/") {
			link = s.baseURL + link
		}
		body += "\n\n" + link
	}
	return s.mailer.SendMail(account.Email, msg.Title, body)
}
