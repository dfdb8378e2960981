package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kislikjeka/booksync/pkg/logger"
)

const (
	// BalanceKeyPrefix is the prefix for classification allowance keys
	BalanceKeyPrefix = "meter:balance:"

	// UsageStream records every deduction and credit
	UsageStream = "meter:usage"

	// usageStreamMaxLen bounds the usage stream (approximate trim)
	usageStreamMaxLen = 100000
)

// ErrInsufficientBalance is returned when a deduction exceeds the balance
var ErrInsufficientBalance = errors.New("insufficient classification balance")

// deductScript decrements the balance only when it covers the cost.
// Returns the new balance, or -1 when the balance is too low.
var deductScript = redis.NewScript(`
local balance = tonumber(redis.call("GET", KEYS[1]) or "0")
local cost = tonumber(ARGV[1])
if balance < cost then
	return -1
end
return redis.call("DECRBY", KEYS[1], cost)
`)

// Meter is a Redis-backed classification allowance. One unit is one record.
type Meter struct {
	client *redis.Client
	logger *logger.Logger
}

// NewMeter creates a new usage meter
func NewMeter(client *redis.Client, log *logger.Logger) *Meter {
	return &Meter{
		client: client,
		logger: log.WithField("component", "meter"),
	}
}

func balanceKey(accountID string) string {
	return BalanceKeyPrefix + accountID
}

// GetBalance returns the remaining units; an unknown account has zero
func (m *Meter) GetBalance(ctx context.Context, accountID string) (int, error) {
	val, err := m.client.Get(ctx, balanceKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		m.logger.Error("meter error", "operation", "get", "account_id", accountID, "error", err)
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("failed to parse balance %q: %w", val, err)
	}
	return n, nil
}

// HasSufficientBalance reports whether cost units are available
func (m *Meter) HasSufficientBalance(ctx context.Context, accountID string, cost int) (bool, error) {
	balance, err := m.GetBalance(ctx, accountID)
	if err != nil {
		return false, err
	}
	return balance >= cost, nil
}

// Deduct atomically removes cost units. It fails with ErrInsufficientBalance
// and leaves the balance untouched when the balance does not cover cost.
func (m *Meter) Deduct(ctx context.Context, accountID string, cost int, reason string) error {
	if cost <= 0 {
		return nil
	}

	left, err := deductScript.Run(ctx, m.client, []string{balanceKey(accountID)}, cost).Int()
	if err != nil {
		m.logger.Error("meter error", "operation", "deduct", "account_id", accountID, "error", err)
		return fmt.Errorf("failed to deduct balance: %w", err)
	}
	if left < 0 {
		return ErrInsufficientBalance
	}

	m.recordUsage(ctx, accountID, -cost, reason)
	m.logger.Debug("balance deducted", "account_id", accountID, "cost", cost, "balance", left, "reason", reason)
	return nil
}

// Credit adds units to an account and returns the new balance
func (m *Meter) Credit(ctx context.Context, accountID string, units int, reason string) (int, error) {
	if units <= 0 {
		return 0, fmt.Errorf("credit must be positive, got %d", units)
	}

	balance, err := m.client.IncrBy(ctx, balanceKey(accountID), int64(units)).Result()
	if err != nil {
		m.logger.Error("meter error", "operation", "credit", "account_id", accountID, "error", err)
		return 0, fmt.Errorf("failed to credit balance: %w", err)
	}

	m.recordUsage(ctx, accountID, units, reason)
	return int(balance), nil
}

// recordUsage appends to the usage stream; failures only log
func (m *Meter) recordUsage(ctx context.Context, accountID string, delta int, reason string) {
	err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: UsageStream,
		MaxLen: usageStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"account_id": accountID,
			"delta":      delta,
			"reason":     reason,
			"at":         time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		m.logger.Warn("failed to record usage", "account_id", accountID, "error", err)
	}
}
