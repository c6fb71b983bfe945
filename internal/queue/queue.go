package queue

import (
	"fmt"
	"time"

	"github.com/casetrail/backend/internal/util"
	"github.com/casetrail/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// IngestQueue carries document ingestion jobs from the API server to the
// worker. Failed jobs bounce through the retry queue and land in the DLQ
// after too many attempts.
const (
	IngestQueue = "ingest_queue"

	// CaseEventsExchange fans case-update events out to every running API
	// server, which forwards them to its websocket subscribers. Routing key
	// is the case ID.
	CaseEventsExchange = "case_events"
)

// Init connects to RabbitMQ using the RABBITMQ_* environment.
func Init() *amqp091.Connection {
	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		util.GetEnv("RABBITMQ_USER"),
		util.GetEnv("RABBITMQ_PASSWORD"),
		util.GetEnv("RABBITMQ_HOST"),
		util.GetEnv("RABBITMQ_PORT"),
	)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

// SetupQueues declares the work queues with their retry and dead-letter
// companions, plus the case events exchange. Safe to call from every
// process; declarations are idempotent.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	err := ch.ExchangeDeclare(
		CaseEventsExchange,
		"topic",
		false, // durable
		true,  // autoDelete
		false,
		false,
		nil,
	)
	if err != nil {
		logger.Fatal("ExchangeDeclare failed", "exchange", CaseEventsExchange, "err", err)
	}

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
			logger.Fatal("QueueDeclare failed", "queue", name, "err", err)
		}

		dlqName := name + "_dlq"
		_, err = ch.QueueDeclare(
			dlqName,
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			logger.Fatal("QueueDeclare failed", "queue", dlqName, "err", err)
		}

		retryName := name + "_retry"
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(10000),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			logger.Fatal("QueueDeclare failed", "queue", retryName, "err", err)
		}
	}

	return nil
}

// PublishFIFO publishes a persistent message directly onto a work queue.
func PublishFIFO(ch *amqp091.Channel, queueName string, data []byte) error {
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

	return ch.Publish(
		"",
		q.Name,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// PublishCaseEvent publishes a case-update event onto the events exchange,
// routed by case ID.
func PublishCaseEvent(ch *amqp091.Channel, caseID string, data []byte) error {
	return ch.Publish(
		CaseEventsExchange,
		caseID,
		false,
		false,
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        data,
			Timestamp:   time.Now(),
		},
	)
}

// SubscribeCaseEvents binds an exclusive auto-deleted queue to the events
// exchange and starts consuming all case events. Used by the API server to
// feed its websocket hub.
func SubscribeCaseEvents(ch *amqp091.Channel) (<-chan amqp091.Delivery, error) {
	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}
	if err := ch.QueueBind(q.Name, "#", CaseEventsExchange, false, nil); err != nil {
		return nil, err
	}
	return ch.Consume(q.Name, "", true, true, false, false, nil)
}
