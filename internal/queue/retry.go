package queue

import (
	"github.com/OFFIS-RIT/ctilinker/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const retriesHeader = "x-retries"

// MaxRetries is the number of retries before a message goes to the DLQ.
const MaxRetries = 10

// Retries returns the retry count stored in the message headers.
func Retries(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int16:
		return int(v)
	}
	return 0
}

// HandleProcessingError moves msg to the retry queue of queueName, or to its
// dead letter queue after MaxRetries attempts. The message is requeued when
// neither publish works.
func HandleProcessingError(ch Channel, msg amqp091.Delivery, queueName string) {
	retries := Retries(msg.Headers)

	if retries >= MaxRetries {
		dlqName := DeadLetterQueue(queueName)
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp091.Publishing{
				ContentType: msg.ContentType,
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		if pubErr != nil {
			logger.Error("[Queue] Failed to publish to DLQ", "dlq", dlqName, "err", pubErr)
			_ = msg.Nack(false, true)
			return
		}
		_ = msg.Ack(false)
		return
	}

	retryName := RetryQueue(queueName)
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retriesHeader] = int32(retries + 1)

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish to retry queue", "retry_queue", retryName, "err", pubErr)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
