package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/fairmatch/internal/model"
)

func TestPublisher_BidEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, ChannelBidPlaced, ChannelBidAccepted)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	ch := sub.Channel()

	at := time.Date(2026, 5, 5, 9, 0, 0, 0, time.UTC)
	p := NewPublisher(rdb, nil)
	p.now = func() time.Time { return at }

	bid := model.Bid{ID: 11, JobID: 3, ProviderID: 7, Amount: 5000}
	p.BidPlaced(ctx, bid)
	p.BidAccepted(ctx, bid, 1)

	recv := func() (string, Event) {
		select {
		case msg := <-ch:
			var ev Event
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
			return msg.Channel, ev
		case <-time.After(2 * time.Second):
			t.Fatalf("no message received")
		}
		return "", Event{}
	}

	channel, placed := recv()
	assert.Equal(t, ChannelBidPlaced, channel)
	assert.Equal(t, ChannelBidPlaced, placed.Type)
	assert.Equal(t, int64(11), placed.BidID)
	assert.Equal(t, int64(3), placed.JobID)
	assert.Equal(t, model.Money(5000), placed.Amount)
	assert.True(t, placed.At.Equal(at))
	_, err = uuid.Parse(placed.EventID)
	assert.NoError(t, err)

	channel, accepted := recv()
	assert.Equal(t, ChannelBidAccepted, channel)
	assert.Equal(t, int64(1), accepted.CustomerID)
	assert.NotEqual(t, placed.EventID, accepted.EventID)
}

func TestPublisher_NilAndUnavailable(t *testing.T) {
	var p *Publisher
	assert.NotPanics(t, func() { p.BidPlaced(context.Background(), model.Bid{ID: 1}) })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	assert.NotPanics(t, func() { NewPublisher(rdb, nil).BidAccepted(context.Background(), model.Bid{ID: 1}, 2) })
}
