// Package bus implements the message bus adapter (spec §4.C): a durable
// FIFO queue with manual ack/nack, persistent messages, and automatic
// reconnection, retried with a fixed 5s backoff while the broker is
// unreachable.
//
// No repository in the reference corpus ships a message-bus client, so
// this package is grounded on a real ecosystem library
// (github.com/rabbitmq/amqp091-go) chosen because its API — manual
// Ack/Nack, Connection.NotifyClose for reconnect detection, a Dial with
// connect/heartbeat timeouts — is the closest real match to spec §4.C and
// §5's numeric contract (10s connect, 30s heartbeat, 5s backoff).
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lakeflow/control-plane/internal/config"
	"github.com/lakeflow/control-plane/internal/domain"
)

const (
	connectTimeout  = 10 * time.Second
	heartbeat       = 30 * time.Second
	reconnectBackoff = 5 * time.Second
)

// Message is the JSON envelope published to and consumed from the queue.
// Unknown fields are tolerated by both producer and consumer.
type Message struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// Delivery wraps a received message with its ack/nack handle.
type Delivery struct {
	Message Message
	Raw     []byte
	ack     func() error
	nack    func(requeue bool) error
}

// Ack acknowledges successful processing of the delivery.
func (d *Delivery) Ack() error { return d.ack() }

// Nack negatively acknowledges the delivery, optionally requeuing it.
func (d *Delivery) Nack(requeue bool) error { return d.nack(requeue) }

// Adapter owns one connection to the broker and reconnects automatically.
type Adapter struct {
	url       string
	queueName string
	logger    *slog.Logger

	conn *amqp.Connection
	ch   *amqp.Channel
}

// New dials the broker and declares the durable queue named in cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Adapter, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d/", cfg.QueueUser, cfg.QueuePass, cfg.QueueHost, cfg.QueuePort)
	a := &Adapter{url: url, queueName: cfg.QueueName, logger: logger}
	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) connect(ctx context.Context) error {
	dialCfg := amqp.Config{
		Heartbeat: heartbeat,
		Dial:      amqp.DefaultDial(connectTimeout),
	}

	conn, err := amqp.DialConfig(a.url, dialCfg)
	if err != nil {
		return domain.ErrBus(err, "dial message bus: %v", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return domain.ErrBus(err, "open channel: %v", err)
	}
	if _, err := ch.QueueDeclare(a.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return domain.ErrBus(err, "declare queue %s: %v", a.queueName, err)
	}

	a.conn, a.ch = conn, ch
	go a.watchClose(ctx)
	return nil
}

// watchClose reconnects with a fixed backoff whenever the connection drops,
// per spec §5's "reconnect 5s backoff" requirement.
func (a *Adapter) watchClose(ctx context.Context) {
	closeErrCh := a.conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case err := <-closeErrCh:
		if err == nil {
			return // graceful Close()
		}
		a.logger.Warn("message bus connection lost, reconnecting", "error", err)
	case <-ctx.Done():
		return
	}

	for {
		time.Sleep(reconnectBackoff)
		if dialErr := a.connect(ctx); dialErr != nil {
			a.logger.Warn("message bus reconnect failed, retrying", "error", dialErr)
			continue
		}
		a.logger.Info("message bus reconnected")
		return
	}
}

// Publish sends a persistent message to the queue.
func (a *Adapter) Publish(ctx context.Context, id, kind string, payload interface{}) error {
	body, err := json.Marshal(mergeEnvelope(id, kind, payload))
	if err != nil {
		return domain.ErrValidation("marshal message: %v", err)
	}

	err = a.ch.PublishWithContext(ctx, "", a.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return domain.ErrBus(err, "publish message %s: %v", id, err)
	}
	return nil
}

// Consume returns a channel of deliveries from the queue under manual ack.
func (a *Adapter) Consume(ctx context.Context, consumerTag string) (<-chan Delivery, error) {
	raw, err := a.ch.Consume(a.queueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, domain.ErrBus(err, "consume from %s: %v", a.queueName, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case d, ok := <-raw:
				if !ok {
					return
				}
				delivery := d
				msg := decodeEnvelope(delivery.Body)
				out <- Delivery{
					Message: msg,
					Raw:     delivery.Body,
					ack:     func() error { return delivery.Ack(false) },
					nack:    func(requeue bool) error { return delivery.Nack(false, requeue) },
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Stats reports observable queue depth and consumer count (spec §4.C,
// used by the coordinator's /api/v1/queue/stats endpoint).
type Stats struct {
	QueueName     string
	MessageCount  int
	ConsumerCount int
	Status        string
}

// Stats reads the current queue depth/consumer count via a passive
// queue declare.
func (a *Adapter) Stats(queueName string) (Stats, error) {
	q, err := a.ch.QueueInspect(queueName)
	if err != nil {
		return Stats{}, domain.ErrBus(err, "inspect queue %s: %v", queueName, err)
	}
	return Stats{
		QueueName:     queueName,
		MessageCount:  q.Messages,
		ConsumerCount: q.Consumers,
		Status:        "ok",
	}, nil
}

// Close shuts down the channel and connection.
func (a *Adapter) Close() error {
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func mergeEnvelope(id, kind string, payload interface{}) map[string]interface{} {
	out := map[string]interface{}{"id": id, "kind": kind}
	payloadBytes, err := json.Marshal(payload)
	if err == nil {
		var fields map[string]interface{}
		if json.Unmarshal(payloadBytes, &fields) == nil {
			for k, v := range fields {
				out[k] = v
			}
		}
	}
	return out
}

func decodeEnvelope(body []byte) Message {
	var fields map[string]interface{}
	_ = json.Unmarshal(body, &fields)

	var msg Message
	if v, ok := fields["id"].(string); ok {
		msg.ID = v
	}
	if v, ok := fields["kind"].(string); ok {
		msg.Kind = v
	}
	return msg
}
