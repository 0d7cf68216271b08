// Package notify publishes balance-change events for interested consumers
// (game servers, websocket fan-out) after a transfer commits.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const balanceUpdatedChannel = "wallet:balance_updated"

// AccountBalance is one observable account balance after a transfer.
type AccountBalance struct {
	Account string          `json:"account"`
	Balance decimal.Decimal `json:"balance"`
}

// Notifier announces committed balance changes. Implementations must be safe
// for concurrent use; failures are reported, never retried here.
type Notifier interface {
	BalanceUpdated(ctx context.Context, userID uuid.UUID, accounts []AccountBalance) error
}

// RedisNotifier publishes balance events on a Redis channel.
type RedisNotifier struct {
	client redis.Cmdable
}

func NewRedisNotifier(client redis.Cmdable) *RedisNotifier {
	return &RedisNotifier{client: client}
}

type balanceUpdatedEvent struct {
	UserID   uuid.UUID        `json:"user_id"`
	Accounts []AccountBalance `json:"accounts"`
}

func (n *RedisNotifier) BalanceUpdated(ctx context.Context, userID uuid.UUID, accounts []AccountBalance) error {
	payload, err := json.Marshal(balanceUpdatedEvent{UserID: userID, Accounts: accounts})
	if err != nil {
		return fmt.Errorf("marshal balance event: %w", err)
	}
	if err := n.client.Publish(ctx, balanceUpdatedChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish balance event: %w", err)
	}
	return nil
}

// NopNotifier discards all events. Used when no broker is configured.
type NopNotifier struct{}

func (NopNotifier) BalanceUpdated(context.Context, uuid.UUID, []AccountBalance) error {
	return nil
}
