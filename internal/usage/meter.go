// Package usage computes token costs and records them against users.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// tokensPerUnit is the token count model prices are quoted for.
const tokensPerUnit = 1_000_000

// CalculateCost returns the monetary cost of a call given per-million-token
// prices for each direction.
func CalculateCost(inputTokens, outputTokens int, inputCost, outputCost float64) float64 {
	in := float64(inputTokens) * (inputCost / tokensPerUnit)
	out := float64(outputTokens) * (outputCost / tokensPerUnit)
	return in + out
}

// Meter records usage cost into a ledger. The ledger is additive-only;
// corrections are new offsetting entries made outside this package.
type Meter struct {
	ledger schema.UsageLedger
}

func NewMeter(ledger schema.UsageLedger) *Meter {
	return &Meter{ledger: ledger}
}

// UpdateUserUsage adds amount to the user's period and total counters.
// Negative or non-finite amounts fail without touching the ledger.
func (m *Meter) UpdateUserUsage(ctx context.Context, userID string, amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return fmt.Errorf("update usage for %s: %w: %v", userID, schema.ErrInvalidAmount, amount)
	}
	if userID == "" {
		return fmt.Errorf("update usage: %w", schema.ErrNotFound)
	}
	if err := m.ledger.IncrementUsage(ctx, userID, amount); err != nil {
		return fmt.Errorf("update usage for %s: %w", userID, err)
	}
	return nil
}

// Record computes the cost of u and adds it to the user's ledger.
// When both prices are unset it returns 0 without writing.
func (m *Meter) Record(ctx context.Context, userID string, u schema.Usage, inputCost, outputCost float64) (float64, error) {
	if inputCost == 0 && outputCost == 0 {
		return 0, nil
	}
	cost := CalculateCost(u.InputTokens, u.OutputTokens, inputCost, outputCost)
	if err := m.UpdateUserUsage(ctx, userID, cost); err != nil {
		return 0, err
	}
	slog.Debug("usage recorded",
		"user", userID,
		"input_tokens", u.InputTokens,
		"output_tokens", u.OutputTokens,
		"cost", cost,
	)
	return cost, nil
}
