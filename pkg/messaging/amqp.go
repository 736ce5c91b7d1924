// Package messaging publishes finalized calls to an AMQP queue for the
// downstream persistence consumer.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"voiceagent-server/pkg/session"
)

// CallRecord is the message published for every finalized call.
type CallRecord struct {
	CallSID         string            `json:"call_sid"`
	Status          string            `json:"status"`
	DurationSeconds float64           `json:"duration_seconds"`
	Transcript      []TranscriptEntry `json:"transcript"`
	FinalizedAt     time.Time         `json:"finalized_at"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// TranscriptEntry is one conversation turn in a CallRecord.
type TranscriptEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL        string
	QueueName  string
	Exchange   string
	RoutingKey string
	Durable    bool
}

// AMQPFinalizer publishes finalized calls over AMQP. It reconnects in the
// background when the broker drops the connection; publishes while
// disconnected fail fast and are logged by the caller.
type AMQPFinalizer struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPFinalizer creates a finalizer for the given broker configuration.
func NewAMQPFinalizer(logger *logrus.Logger, config AMQPConfig) *AMQPFinalizer {
	if config.RoutingKey == "" {
		config.RoutingKey = config.QueueName
	}
	return &AMQPFinalizer{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the connection, channel and queue declaration.
func (f *AMQPFinalizer) Connect() error {
	f.connMutex.Lock()
	defer f.connMutex.Unlock()

	if f.connected {
		return nil
	}
	if f.config.URL == "" || f.config.QueueName == "" {
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	conn, err := amqp.Dial(f.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		f.config.QueueName,
		f.config.Durable,
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	f.conn = conn
	f.channel = channel
	f.connected = true
	f.stopChan = make(chan struct{})

	f.logger.WithFields(logrus.Fields{
		"queue": f.config.QueueName,
	}).Info("Connected to AMQP server")

	go f.monitorConnection()
	return nil
}

// Disconnect closes the AMQP connection
func (f *AMQPFinalizer) Disconnect() {
	f.connMutex.Lock()
	defer f.connMutex.Unlock()

	if !f.connected {
		return
	}

	close(f.stopChan)
	if f.channel != nil {
		f.channel.Close()
	}
	if f.conn != nil {
		f.conn.Close()
	}
	f.connected = false
	f.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (f *AMQPFinalizer) IsConnected() bool {
	f.connMutex.RLock()
	defer f.connMutex.RUnlock()
	return f.connected
}

// FinalizeCall publishes the completed call's record to the queue.
func (f *AMQPFinalizer) FinalizeCall(ctx context.Context, callSID, status string, durationSeconds float64, transcript []session.Message) error {
	record := CallRecord{
		CallSID:         callSID,
		Status:          status,
		DurationSeconds: durationSeconds,
		Transcript:      make([]TranscriptEntry, 0, len(transcript)),
		FinalizedAt:     time.Now(),
	}
	for _, msg := range transcript {
		record.Transcript = append(record.Transcript, TranscriptEntry{
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		})
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}

	f.connMutex.RLock()
	defer f.connMutex.RUnlock()

	if !f.connected || f.channel == nil {
		return fmt.Errorf("not connected to AMQP server")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err = f.channel.Publish(
		f.config.Exchange,
		f.config.RoutingKey,
		false, // Mandatory
		false, // Immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish call record: %w", err)
	}

	f.logger.WithFields(logrus.Fields{
		"call_sid": callSID,
		"status":   status,
	}).Debug("Published call record to AMQP")
	return nil
}

// monitorConnection reconnects with exponential backoff when the broker
// closes the connection.
func (f *AMQPFinalizer) monitorConnection() {
	closeChan := make(chan *amqp.Error)

	f.connMutex.RLock()
	if f.conn != nil {
		f.conn.NotifyClose(closeChan)
	}
	stop := f.stopChan
	f.connMutex.RUnlock()

	select {
	case <-stop:
		return
	case closeErr := <-closeChan:
		f.connMutex.Lock()
		f.connected = false
		f.connMutex.Unlock()

		f.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")

		for attempt := 1; attempt <= 10; attempt++ {
			err := f.Connect()
			if err == nil {
				f.logger.Info("Successfully reconnected to AMQP server")
				return
			}
			f.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")

			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}

			select {
			case <-stop:
				return
			case <-time.After(backoff):
			}
		}
	}
}
