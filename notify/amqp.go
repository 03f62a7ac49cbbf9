package notify

import (
	"context"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var _ Sink = &AMQPSink{}

// AlertExchange is the fanout exchange every alert is published to
const AlertExchange = "admin_alerts"

// DefaultBacklog is the number of alerts buffered while the broker is slow
const DefaultBacklog = 256

// AMQPOptions configures AMQPSink
type AMQPOptions struct {
	Logger  *zap.Logger
	URI     string
	Backlog int
}

// AMQPSink publishes alerts to RabbitMQ from a background goroutine.
// Notify only enqueues, and refuses alerts while the broker has blocked
// the connection.
type AMQPSink struct {
	logger     *zap.Logger
	connection *amqp.Connection
	channel    *amqp.Channel
	queue      *publishQueue
}

// NewAMQPSink connects to the broker and declares the alert exchange
func NewAMQPSink(option AMQPOptions) (*AMQPSink, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.URI == "" {
		return nil, fmt.Errorf("empty URI is invalid")
	}
	if option.Backlog <= 0 {
		option.Backlog = DefaultBacklog
	}
	amqpConn, err := amqp.Dial(option.URI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		amqpConn.Close()
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	sink := &AMQPSink{
		logger:     option.Logger,
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := sink.setupAlertExchange(); err != nil {
		amqpChan.Close()
		amqpConn.Close()
		return nil, extErrors.Wrap(err, "Cannot declare exchange for alerts")
	}
	sink.queue = newPublishQueue(option.Backlog, sink.publish, sink.dropped)
	go sink.watchBlocked(amqpConn.NotifyBlocked(make(chan amqp.Blocking, 1)))
	return sink, nil
}

func (a *AMQPSink) setupAlertExchange() error {
	return a.channel.ExchangeDeclare(
		AlertExchange, // name
		"fanout",      // type
		true,          // durable
		false,         // auto-deleted
		false,         // internal
		false,         // no-wait
		nil,           // arguments
	)
}

// watchBlocked tracks connection.blocked/unblocked until the connection closes
func (a *AMQPSink) watchBlocked(blockings <-chan amqp.Blocking) {
	for b := range blockings {
		a.queue.setBlocked(b.Active)
		if b.Active {
			a.logger.Warn("Broker blocked the connection, alerts are dropped",
				zap.String("Reason", b.Reason),
			)
		} else {
			a.logger.Info("Broker unblocked the connection")
		}
	}
}

// Close will close the channel and connection to release resources.
// Alerts still queued are discarded.
func (a *AMQPSink) Close() {
	a.channel.Close()
	a.connection.Close()
	if a.queue != nil {
		a.queue.stop()
	}
}

func (a *AMQPSink) Notify(ctx context.Context, alert Alert) error {
	if alert.Time.IsZero() {
		alert.Time = time.Now()
	}
	if a.queue == nil {
		return ErrClosed
	}
	return a.queue.enqueue(ctx, alert)
}

func (a *AMQPSink) publish(alert Alert) error {
	body, err := alert.Encode()
	if err != nil {
		return err
	}
	if err := a.channel.Publish(
		AlertExchange,
		string(alert.Event),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/x-protobuf",
			DeliveryMode: amqp.Persistent,
			Timestamp:    alert.Time,
			Body:         body,
		},
	); err != nil {
		return extErrors.Wrap(err, "Cannot publish alert")
	}
	return nil
}

func (a *AMQPSink) dropped(alert Alert, err error) {
	a.logger.Warn("Unable to publish alert",
		zap.String("Event", string(alert.Event)),
		zap.Error(err),
	)
}

// Receive binds a durable queue to the alert exchange and streams decoded
// alerts until ctx is done. Undecodable messages are dropped.
func (a *AMQPSink) Receive(ctx context.Context, queue string) (<-chan Alert, error) {
	if _, err := a.channel.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup queue")
	}
	if err := a.channel.QueueBind(
		queue,
		"",
		AlertExchange,
		false,
		nil,
	); err != nil {
		return nil, extErrors.Wrap(err, "Cannot bind queue")
	}
	msgChan, err := a.channel.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup consumer")
	}
	rChan := make(chan Alert)
	go func() {
		defer close(rChan)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgChan:
				if !ok {
					return
				}
				alert, err := Decode(d.Body)
				if err != nil {
					d.Nack(false, false)
					continue
				}
				select {
				case rChan <- alert:
					d.Ack(false)
				case <-ctx.Done():
					d.Nack(false, true)
					return
				}
			}
		}
	}()
	return rChan, nil
}
