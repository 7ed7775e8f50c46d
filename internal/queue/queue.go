package queue

import (
	"time"

	"github.com/OFFIS-RIT/ctilinker/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// LinkQueue carries run requests for single sources.
	LinkQueue = "lp_queue"

	// TopicExchange receives events about finished sources.
	TopicExchange = "pubsub_exchange"
	// SourceCompletedTopic is the routing key of a committed source.
	SourceCompletedTopic = "lp.source.completed"

	retryTTL = int32(10000)
)

// Channel is the part of an AMQP channel used to declare and publish.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func Init(url string) *amqp091.Connection {
	conn, err := amqp091.Dial(url)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

// SetupQueues declares every queue with its dead letter queue and a retry
// queue that routes expired messages back to the original queue.
func SetupQueues(ch Channel, queueNames []string) error {
	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return err
		}

		_, err = ch.QueueDeclare(
			DeadLetterQueue(name),
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return err
		}

		_, err = ch.QueueDeclare(
			RetryQueue(name),
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             retryTTL,
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func RetryQueue(name string) string {
	return name + "_retry"
}

func DeadLetterQueue(name string) string {
	return name + "_dlq"
}

func PublishFIFO(ch Channel, queueName string, data []byte) error {
	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.Publish(
		"",
		q.Name,
		false,
		false,
		publishing,
	)
}

func PublishTopic(ch Channel, topic string, data []byte) error {
	err := ch.ExchangeDeclare(
		TopicExchange,
		"topic",
		false,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.Publish(
		TopicExchange,
		topic,
		false,
		false,
		publishing,
	)
}
