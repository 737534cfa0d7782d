package clients

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"bridge-backend/internal/metrics"
)

// NATSClient publishes relayer lifecycle events for operator tooling
// (dashboards, alerting) to consume; the bridge never subscribes, since
// both relayers drive themselves off the Bridge Store, not off events.
type NATSClient struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
	subject    string
	logger     *logrus.Logger
}

// NewNATSClient connects to url and ensures the configured JetStream
// stream exists.
func NewNATSClient(url, streamName, subject string, timeout, reconnectWait time.Duration, maxReconnects int, logger *logrus.Logger) (*NATSClient, error) {
	conn, err := nats.Connect(url,
		nats.Timeout(timeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("⚠️ NATS connection lost")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("✅ NATS reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	client := &NATSClient{conn: conn, js: js, streamName: streamName, subject: subject, logger: logger}
	if err := client.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	metrics.NATSConnectionStatus.Set(1)
	return client, nil
}

func (c *NATSClient) ensureStream() error {
	if _, err := c.js.StreamInfo(c.streamName); err == nil {
		return nil
	}

	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:      c.streamName,
		Subjects:  []string{c.subject + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", c.streamName, err)
	}
	c.logger.WithField("stream", c.streamName).Info("✅ JetStream stream created")
	return nil
}

// DepositMintedEvent describes a deposit whose note has minted on Miden;
// PublishDepositMinted sends it. Neither relayer holds a NATSClient, so
// nothing in the bridge publishes it.
type DepositMintedEvent struct {
	IntentID      string `json:"intent_id"`
	RecipientHash string `json:"recipient_hash"`
	SourceTxID    string `json:"source_tx_id"`
	MintNoteID    string `json:"mint_note_id"`
	AmountBase    string `json:"amount_base"`
}

// WithdrawalPaidEvent describes a withdrawal whose payout landed on
// Zcash; PublishWithdrawalPaid sends it, and likewise has no caller.
type WithdrawalPaidEvent struct {
	WithdrawalID string `json:"withdrawal_id"`
	SourceNoteID string `json:"source_note_id"`
	TargetTxID   string `json:"target_tx_id"`
	AmountBase   string `json:"amount_base"`
}

func (c *NATSClient) PublishDepositMinted(event DepositMintedEvent) error {
	return c.publish("deposit_minted", event)
}

func (c *NATSClient) PublishWithdrawalPaid(event WithdrawalPaidEvent) error {
	return c.publish("withdrawal_paid", event)
}

func (c *NATSClient) publish(eventType string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	subject := fmt.Sprintf("%s.%s", c.subject, eventType)
	if _, err := c.js.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}
	metrics.NATSEventsPublished.WithLabelValues(eventType).Inc()
	c.logger.WithField("subject", subject).Debug("published relayer lifecycle event")
	return nil
}

func (c *NATSClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *NATSClient) GetConnection() *nats.Conn {
	return c.conn
}
