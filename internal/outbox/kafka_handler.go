package outbox

import (
	"context"
	"fmt"

	"github.com/clevora/clevora-api/internal/models"
	"github.com/clevora/clevora-api/pkg/kafka"
	"github.com/clevora/clevora-api/pkg/logger"
)

// KafkaHandler publishes outbox messages to Kafka
type KafkaHandler struct {
	producer *kafka.Producer
	topic    string
	logger   logger.Logger
}

// NewKafkaHandler creates a new KafkaHandler
func NewKafkaHandler(producer *kafka.Producer, topic string, logger logger.Logger) *KafkaHandler {
	return &KafkaHandler{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// HandleMessage publishes an outbox message to Kafka. The aggregate ID (the
// order ID) keys the message, so events for one order stay ordered within a
// partition.
func (h *KafkaHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	key := message.AggregateID

	err := h.producer.SendMessage(ctx, h.topic, key, message.Payload)

	if err != nil {
		h.logger.Error("Failed to publish message to Kafka",
			"error", err,
			"messageID", message.ID,
			"aggregateID", message.AggregateID)
		return fmt.Errorf("failed to publish message to Kafka: %w", err)
	}

	h.logger.Debug("Published message to Kafka",
		"topic", h.topic,
		"messageID", message.ID,
		"aggregateID", message.AggregateID,
		"eventType", message.EventType)

	return nil
}
