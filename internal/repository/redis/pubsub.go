package redisrepo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type ChangeType string

const (
	ChangeMinted    ChangeType = "minted"
	ChangeListed    ChangeType = "listed"
	ChangePurchased ChangeType = "purchased"
)

// TicketChange is the message published after a ticket mutation commits.
type TicketChange struct {
	Type     ChangeType `json:"type"`
	TicketID uint32     `json:"ticket_id"`
	EventID  uint32     `json:"event_id"`
	TsUnix   int64      `json:"ts_unix"`
}

type TicketsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewTicketsPubSub(rdb *redis.Client) *TicketsPubSub {
	return &TicketsPubSub{
		rdb:     rdb,
		channel: ChannelTicketsChanged(),
	}
}

func (p *TicketsPubSub) PublishTicketChanged(ctx context.Context, typ ChangeType, ticketID, eventID uint32) error {
	if p == nil {
		return nil
	}

	msg := TicketChange{
		Type:     typ,
		TicketID: ticketID,
		EventID:  eventID,
		TsUnix:   time.Now().Unix(),
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// Subscribe delivers ticket changes to handler until ctx is done.
func (p *TicketsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, ch TicketChange)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var change TicketChange
			if err := json.Unmarshal([]byte(m.Payload), &change); err == nil && change.Type != "" {
				handler(ctx, change)
			}
		}
	}
}
