package notification

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

const defaultStatusTopic = "payment.status_changed"

type StatusChangedEvent struct {
	EventID        string `json:"event_id"`
	PaymentID      uint64 `json:"payment_id"`
	ShopID         uint64 `json:"shop_id"`
	OrderID        string `json:"order_id"`
	Gateway        string `json:"gateway"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	OccurredAt     string `json:"occurred_at"`
}

func NewStatusChangedEvent(payment *entity.Payment, previous entity.PaymentStatus, at time.Time) *StatusChangedEvent {
	return &StatusChangedEvent{
		EventID:        uuid.NewString(),
		PaymentID:      payment.ID,
		ShopID:         payment.ShopID,
		OrderID:        payment.OrderID,
		Gateway:        payment.Gateway,
		PreviousStatus: string(previous),
		Status:         string(payment.Status),
		Amount:         payment.Amount.StringFixed(2),
		Currency:       payment.Currency,
		OccurredAt:     at.UTC().Format(time.RFC3339Nano),
	}
}

// KafkaPublisher writes status changes keyed by payment id, so all events of
// one payment land on the same partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return newKafkaPublisher(producer, topic), nil
}

func newKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = defaultStatusTopic
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(_ context.Context, event *StatusChangedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(strconv.FormatUint(event.PaymentID, 10)),
		Value:     sarama.ByteEncoder(data),
		Timestamp: time.Now(),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(event.EventID)},
		},
	}

	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
