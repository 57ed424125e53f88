// Package ledger implements the in-memory Event Ledger: event records,
// registrations, ordered check-ins and escrowed reward payouts.
//
// Every event is a single aggregate guarded by its own mutex, so the
// registrant set, the check-in sequence and the escrow balance always change
// together. The index of events is locked only long enough to look up or
// append an aggregate; no lock is ever held across two events.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/model"
	"github.com/google/uuid"
)

// Ledger is an in-memory, concurrency-safe Event Ledger.
type Ledger struct {
	mu     sync.RWMutex
	events []*aggregate // index is the event id

	balances sync.Map // identity -> *atomic.Int64
	now      func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New constructs an empty Ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type aggregate struct {
	mu sync.Mutex

	event       model.Event
	registrants []model.Registration
	registered  map[string]struct{}
	checkIns    []model.CheckIn
	checkedIn   map[string]struct{}
}

// lookup returns the aggregate for id without locking it.
func (l *Ledger) lookup(id int64) (*aggregate, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id < 0 || id >= int64(len(l.events)) {
		return nil, false
	}
	return l.events[id], true
}

// CreateEvent validates the draft and allocates a funded event in one step.
// The returned id is the next sequential id starting at 0.
func (l *Ledger) CreateEvent(ctx context.Context, draft model.NewEvent) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	draft.Organizer = model.NormalizeIdentity(draft.Organizer)
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = l.now().UTC()
	}
	if err := draft.Validate(); err != nil {
		return 0, err
	}

	agg := &aggregate{
		event: model.Event{
			Organizer:       draft.Organizer,
			Name:            draft.Name,
			StartTime:       draft.StartTime.UTC(),
			MaxParticipants: draft.MaxParticipants,
			RewardPool:      draft.EscrowAmount,
			Escrow:          draft.EscrowAmount,
			IsActive:        true,
			CreatedAt:       draft.CreatedAt.UTC(),
		},
		registered: make(map[string]struct{}),
		checkedIn:  make(map[string]struct{}),
	}

	l.mu.Lock()
	agg.event.ID = int64(len(l.events))
	l.events = append(l.events, agg)
	l.mu.Unlock()

	return agg.event.ID, nil
}

// Register adds participant to the event's registrants.
func (l *Ledger) Register(ctx context.Context, eventID int64, participant string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	participant = model.NormalizeIdentity(participant)
	if participant == "" {
		return fmt.Errorf("%w: participant is required", model.ErrInvalidParameters)
	}
	agg, ok := l.lookup(eventID)
	if !ok {
		return model.ErrNotFound
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	if !agg.event.IsActive {
		return model.ErrNotFound
	}
	if _, dup := agg.registered[participant]; dup {
		return model.ErrAlreadyRegistered
	}
	if len(agg.registrants) >= agg.event.MaxParticipants {
		return model.ErrEventFull
	}
	agg.registered[participant] = struct{}{}
	agg.registrants = append(agg.registrants, model.Registration{
		EventID:     eventID,
		Participant: participant,
		CreatedAt:   l.now().UTC(),
	})
	return nil
}

// CheckIn appends participant to the event's check-in sequence and pays the
// reward owed to the resulting position. The append, the escrow debit and the
// participant credit happen under the event lock as one step.
func (l *Ledger) CheckIn(ctx context.Context, eventID int64, participant, caller string) (*model.CheckIn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	participant = model.NormalizeIdentity(participant)
	agg, ok := l.lookup(eventID)
	if !ok {
		return nil, model.ErrNotFound
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	if !agg.event.IsActive {
		return nil, model.ErrNotFound
	}
	if _, ok := agg.registered[participant]; !ok {
		return nil, model.ErrNotRegistered
	}
	if _, dup := agg.checkedIn[participant]; dup {
		return nil, model.ErrAlreadyCheckedIn
	}

	position := len(agg.checkIns) + 1
	reward := model.RewardShare(agg.event.RewardPool, position)
	if reward > agg.event.Escrow {
		return nil, fmt.Errorf("%w: event %d owes %d at position %d but holds %d",
			model.ErrInsufficientEscrow, eventID, reward, position, agg.event.Escrow)
	}

	rec := model.CheckIn{
		ID:          uuid.New().String(),
		EventID:     eventID,
		Participant: participant,
		Position:    position,
		Reward:      reward,
		CheckedInBy: model.NormalizeIdentity(caller),
		CreatedAt:   l.now().UTC(),
	}
	agg.checkedIn[participant] = struct{}{}
	agg.checkIns = append(agg.checkIns, rec)
	if reward > 0 {
		agg.event.Escrow -= reward
		l.credit(participant, reward)
	}
	return &rec, nil
}

// Deactivate marks an event inactive. Only the organizer may do so; escrow is
// left untouched. Deactivating an inactive event is a no-op.
func (l *Ledger) Deactivate(ctx context.Context, eventID int64, caller string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	agg, ok := l.lookup(eventID)
	if !ok {
		return model.ErrNotFound
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	if agg.event.Organizer != model.NormalizeIdentity(caller) {
		return fmt.Errorf("%w: only the organizer can deactivate event %d", model.ErrUnauthorized, eventID)
	}
	agg.event.IsActive = false
	return nil
}

// EventDetails returns a snapshot of the event, active or not.
func (l *Ledger) EventDetails(ctx context.Context, eventID int64) (*model.EventDetails, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	agg, ok := l.lookup(eventID)
	if !ok {
		return nil, model.ErrNotFound
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	return &model.EventDetails{
		Event:           agg.event,
		RegisteredCount: len(agg.registrants),
		CheckedInCount:  len(agg.checkIns),
	}, nil
}

// IsRegistered reports whether participant holds a slot. Unknown events
// report false rather than an error.
func (l *Ledger) IsRegistered(ctx context.Context, eventID int64, participant string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	agg, ok := l.lookup(eventID)
	if !ok {
		return false, nil
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	_, reg := agg.registered[model.NormalizeIdentity(participant)]
	return reg, nil
}

// EventCount returns the number of events ever created.
func (l *Ledger) EventCount(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.events)), nil
}

// Registrants returns the event's registrations in insertion order.
func (l *Ledger) Registrants(ctx context.Context, eventID int64) ([]model.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	agg, ok := l.lookup(eventID)
	if !ok {
		return nil, model.ErrNotFound
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	out := make([]model.Registration, len(agg.registrants))
	copy(out, agg.registrants)
	return out, nil
}

// CheckIns returns the event's check-ins in arrival order.
func (l *Ledger) CheckIns(ctx context.Context, eventID int64) ([]model.CheckIn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	agg, ok := l.lookup(eventID)
	if !ok {
		return nil, model.ErrNotFound
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	out := make([]model.CheckIn, len(agg.checkIns))
	copy(out, agg.checkIns)
	return out, nil
}

// Balance returns the total paid out to identity across all events.
func (l *Ledger) Balance(ctx context.Context, identity string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v, ok := l.balances.Load(model.NormalizeIdentity(identity))
	if !ok {
		return 0, nil
	}
	return v.(*atomic.Int64).Load(), nil
}

func (l *Ledger) credit(identity string, amount int64) {
	v, _ := l.balances.LoadOrStore(identity, new(atomic.Int64))
	v.(*atomic.Int64).Add(amount)
}
