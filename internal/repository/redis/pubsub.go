package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type EventsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewEventsPubSub(rdb *redis.Client) *EventsPubSub {
	return &EventsPubSub{
		rdb:     rdb,
		channel: ChannelEventsChanged(),
	}
}

type eventChangedMsg struct {
	Type              string `json:"type"`
	EventID           int64  `json:"event_id"`
	PremiumRemaining  int    `json:"premium_remaining"`
	StandardRemaining int    `json:"standard_remaining"`
	TsUnix            int64  `json:"ts_unix"`
}

// PublishInventoryChanged tells subscribers (live availability widgets,
// other instances) that an event's pools moved.
func (p *EventsPubSub) PublishInventoryChanged(ctx context.Context, eventID int64, premium, standard int) error {
	msg := eventChangedMsg{
		Type:              "inventory_changed",
		EventID:           eventID,
		PremiumRemaining:  premium,
		StandardRemaining: standard,
		TsUnix:            time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}
