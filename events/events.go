// Package events publishes committed-transfer notifications so downstream
// consumers (notifications, analytics) can react without touching the store.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/ledger"
)

// SubjectTransferCompleted is the NATS subject for committed transfers.
const SubjectTransferCompleted = "ledger.transfer.completed"

// TransferEvent is the wire shape of one committed transfer.
type TransferEvent struct {
	EntryID   string    `json:"entry_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    string    `json:"amount"` // decimal string, no float drift on the wire
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// NATS PUBLISHER
// =============================================================================

// NATSPublisher implements ledger.Publisher over a NATS connection.
// Publishes are fire-and-forget: the transfer is already committed by the
// time we get here, so a broker outage is logged, never surfaced.
type NATSPublisher struct {
	nc  *nats.Conn
	log *zap.Logger
}

func NewNATSPublisher(url string, log *zap.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, log: log}, nil
}

func (p *NATSPublisher) TransferCompleted(_ context.Context, e ledger.Entry) {
	payload, err := json.Marshal(TransferEvent{
		EntryID:   e.ID,
		From:      e.From.String(),
		To:        e.To.String(),
		Amount:    e.Amount.String(),
		Timestamp: e.CreatedAt,
	})
	if err != nil {
		p.log.Error("marshal transfer event", zap.Error(err))
		return
	}
	if err := p.nc.Publish(SubjectTransferCompleted, payload); err != nil {
		p.log.Warn("publish transfer event",
			zap.String("entry", e.ID), zap.Error(err))
	}
}

// Close drains the connection at shutdown.
func (p *NATSPublisher) Close() {
	p.nc.Drain()
}

// =============================================================================
// NOOP PUBLISHER
// =============================================================================

// Noop is the publisher used when no broker is configured.
type Noop struct{}

func (Noop) TransferCompleted(context.Context, ledger.Entry) {}
