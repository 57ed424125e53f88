// Package model defines the core domain types for the check-in reward ledger.
package model

import (
	"fmt"
	"strings"
	"time"
)

// RewardedPositions is the number of check-in positions that receive a share
// of the reward pool.
const RewardedPositions = 3

// rewardPercent maps a 1-indexed check-in position to its share of the pool.
var rewardPercent = [RewardedPositions + 1]int64{0, 50, 30, 20}

// RewardShare returns the payout owed to check-in position (1-indexed) for an
// event whose original pool is pool. Positions beyond RewardedPositions earn
// nothing. The result is floor(pool*pct/100) computed without overflow.
func RewardShare(pool int64, position int) int64 {
	if pool <= 0 || position < 1 || position > RewardedPositions {
		return 0
	}
	pct := rewardPercent[position]
	return pool/100*pct + pool%100*pct/100
}

// TotalRewards returns the sum of every share paid once the first n check-ins
// have happened.
func TotalRewards(pool int64, n int) int64 {
	var total int64
	for pos := 1; pos <= n && pos <= RewardedPositions; pos++ {
		total += RewardShare(pool, pos)
	}
	return total
}

// NormalizeIdentity canonicalises a participant or organizer identity.
// Wallet addresses are case-insensitive, so identities compare lower-cased.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// NewEvent is the creation draft for an event. Value is the amount the
// organizer attaches to the call; it must match EscrowAmount exactly.
type NewEvent struct {
	Organizer       string
	Name            string
	StartTime       time.Time
	MaxParticipants int
	EscrowAmount    int64
	Value           int64
	CreatedAt       time.Time
}

// Validate checks every creation precondition. Failures wrap ErrInvalidParameters.
func (n NewEvent) Validate() error {
	switch {
	case n.Organizer == "":
		return invalid("organizer is required")
	case strings.TrimSpace(n.Name) == "":
		return invalid("event name is required")
	case n.MaxParticipants < 1:
		return invalid("max participants must be at least 1")
	case n.EscrowAmount <= 0:
		return invalid("escrow amount must be positive")
	case n.Value != n.EscrowAmount:
		return invalid(fmt.Sprintf("attached value %d does not match escrow amount %d", n.Value, n.EscrowAmount))
	case !n.StartTime.After(n.CreatedAt):
		return invalid("start time must be in the future")
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, msg)
}

// Event is the ledger's record of a single check-in campaign.
// RewardPool is the amount escrowed at creation and never changes; Escrow is
// what is still held after payouts.
type Event struct {
	ID              int64     `json:"id"`
	Organizer       string    `json:"organizer"`
	Name            string    `json:"name"`
	StartTime       time.Time `json:"start_time"`
	MaxParticipants int       `json:"max_participants"`
	RewardPool      int64     `json:"reward_pool"`
	Escrow          int64     `json:"escrow"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

// EventDetails is the read-only view returned by event lookups.
type EventDetails struct {
	Event
	RegisteredCount int `json:"registered_count"`
	CheckedInCount  int `json:"checked_in_count"`
}

// IsFull returns true when no registration slots remain.
func (d *EventDetails) IsFull() bool {
	return d.RegisteredCount >= d.MaxParticipants
}

// Registration records a participant's slot in an event.
type Registration struct {
	EventID     int64     `json:"event_id"`
	Participant string    `json:"participant"`
	CreatedAt   time.Time `json:"created_at"`
}

// CheckIn records one arrival. Position is 1-indexed in arrival order and
// Reward is what the position earned (zero past the rewarded positions).
type CheckIn struct {
	ID          string    `json:"id"`
	EventID     int64     `json:"event_id"`
	Participant string    `json:"participant"`
	Position    int       `json:"position"`
	Reward      int64     `json:"reward"`
	CheckedInBy string    `json:"checked_in_by"`
	CreatedAt   time.Time `json:"created_at"`
}
