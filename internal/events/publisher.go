// Package events публикует уведомления о предложениях в Redis Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mmeshcher/fairmatch/internal/model"
)

// Каналы событий.
const (
	ChannelBidPlaced   = "bid.placed"
	ChannelBidAccepted = "bid.accepted"
)

// Event описывает сообщение, публикуемое в канал.
type Event struct {
	EventID    string      `json:"event_id"`
	Type       string      `json:"type"`
	JobID      int64       `json:"job_id"`
	BidID      int64       `json:"bid_id"`
	ProviderID int64       `json:"provider_id"`
	CustomerID int64       `json:"customer_id,omitempty"`
	Amount     model.Money `json:"amount"`
	At         time.Time   `json:"at"`
}

// Publisher отправляет события в Redis. Ошибки публикации логируются и не прерывают запрос.
// Нулевой *Publisher ничего не публикует.
type Publisher struct {
	rdb    *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewPublisher создаёт издателя событий.
func NewPublisher(rdb *redis.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{rdb: rdb, logger: logger, now: time.Now}
}

// BidPlaced публикует событие о новом предложении.
func (p *Publisher) BidPlaced(ctx context.Context, bid model.Bid) {
	p.publish(ctx, ChannelBidPlaced, Event{
		Type:       ChannelBidPlaced,
		JobID:      bid.JobID,
		BidID:      bid.ID,
		ProviderID: bid.ProviderID,
		Amount:     bid.Amount,
	})
}

// BidAccepted публикует событие о принятом предложении.
func (p *Publisher) BidAccepted(ctx context.Context, bid model.Bid, customerID int64) {
	p.publish(ctx, ChannelBidAccepted, Event{
		Type:       ChannelBidAccepted,
		JobID:      bid.JobID,
		BidID:      bid.ID,
		ProviderID: bid.ProviderID,
		CustomerID: customerID,
		Amount:     bid.Amount,
	})
}

func (p *Publisher) publish(ctx context.Context, channel string, ev Event) {
	if p == nil || p.rdb == nil {
		return
	}

	ev.EventID = uuid.NewString()
	ev.At = p.now().UTC()

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("marshal event failed", zap.Error(err), zap.String("channel", channel))
		return
	}

	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger.Warn("publish event failed", zap.Error(err), zap.String("channel", channel), zap.Int64("bidID", ev.BidID))
	}
}
