package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"project_atendimento/internal/entities"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// OutboundRoutingKey prefixes the routing key of relayed messages; the
// channel id is appended.
const OutboundRoutingKey = "atendimento.outbound."

// RelayEnvelope wraps a relay payload with message metadata.
type RelayEnvelope struct {
	Meta struct {
		ID         string    `json:"id"`
		Type       string    `json:"type"`
		OccurredAt time.Time `json:"occurred_at"`
	} `json:"meta"`
	Data RelayPayload `json:"data"`
}

// AMQPRelay publishes outbound messages to a topic exchange for a worker
// that owns the gateway credentials. Every publish waits for the broker ack.
type AMQPRelay struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger
}

func NewAMQPRelay(url, exchange string, logger *slog.Logger) (*AMQPRelay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPRelay{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With(slog.String("component", "amqp_relay")),
	}, nil
}

// NewRelayEnvelope builds the message published for req.
func NewRelayEnvelope(req entities.OutboundRequest) RelayEnvelope {
	var env RelayEnvelope
	env.Meta.ID = uuid.NewString()
	env.Meta.Type = "outbound.message"
	env.Meta.OccurredAt = time.Now().UTC()
	env.Data = NewRelayPayload(req)
	return env
}

func (r *AMQPRelay) Dispatch(ctx context.Context, req entities.OutboundRequest) error {
	env := NewRelayEnvelope(req)
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: amqp channel: %v", entities.ErrInstanceUnreachable, err)
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("%w: confirm mode: %v", entities.ErrInstanceUnreachable, err)
	}

	key := OutboundRoutingKey + req.ChannelID
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, r.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: req.Instance.Name,
		Timestamp:     env.Meta.OccurredAt,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("%w: publish: %v", entities.ErrInstanceUnreachable, err)
	}
	if err := awaitConfirm(ctx, confirm); err != nil {
		return err
	}
	r.logger.Info("published", slog.String("key", key), slog.String("exchange", r.exchange))
	return nil
}

type publishConfirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// awaitConfirm blocks until the broker acks or nacks the publish.
func awaitConfirm(ctx context.Context, confirm publishConfirmation) error {
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: awaiting broker confirm: %v", entities.ErrInstanceUnreachable, err)
	}
	if !acked {
		return fmt.Errorf("%w: broker nacked the message", entities.ErrGatewayRejected)
	}
	return nil
}

func (r *AMQPRelay) Close() error {
	return r.conn.Close()
}
