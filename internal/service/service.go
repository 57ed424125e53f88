// Package service implements validation, authorization and orchestration
// between HTTP handlers and the ledger store.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/checkinpass"
	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/model"
	"go.uber.org/zap"
)

// Store is an Event Ledger implementation. Both the in-memory ledger and the
// PostgreSQL repository satisfy it; each call is atomic on its own.
type Store interface {
	CreateEvent(ctx context.Context, draft model.NewEvent) (int64, error)
	Register(ctx context.Context, eventID int64, participant string) error
	CheckIn(ctx context.Context, eventID int64, participant, caller string) (*model.CheckIn, error)
	Deactivate(ctx context.Context, eventID int64, caller string) error
	EventDetails(ctx context.Context, eventID int64) (*model.EventDetails, error)
	IsRegistered(ctx context.Context, eventID int64, participant string) (bool, error)
	EventCount(ctx context.Context) (int64, error)
	Registrants(ctx context.Context, eventID int64) ([]model.Registration, error)
	CheckIns(ctx context.Context, eventID int64) ([]model.CheckIn, error)
	Balance(ctx context.Context, identity string) (int64, error)
}

// Attestor verifies that proof attests participant's presence at eventID.
// Rejections must wrap model.ErrUnauthorized.
type Attestor interface {
	Verify(ctx context.Context, proof string, eventID int64, participant string) error
}

// PassIssuer mints check-in passes for registered participants.
type PassIssuer interface {
	Issue(eventID int64, participant string) (checkinpass.Pass, error)
}

// LedgerService orchestrates ledger operations.
type LedgerService struct {
	store    Store
	attestor Attestor
	passes   PassIssuer
	log      *zap.Logger
	now      func() time.Time
}

// NewLedgerService constructs a LedgerService with its dependencies.
// passes may be nil when passes are minted elsewhere.
func NewLedgerService(store Store, attestor Attestor, passes PassIssuer, log *zap.Logger) *LedgerService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LedgerService{
		store:    store,
		attestor: attestor,
		passes:   passes,
		log:      log.Named("ledger"),
		now:      time.Now,
	}
}

// CreateEventRequest carries the inputs of createEvent. Value is the amount
// the caller attaches to the call.
type CreateEventRequest struct {
	Name            string
	StartTime       time.Time
	MaxParticipants int
	EscrowAmount    int64
	Value           int64
}

// CreateEvent validates the request and creates a funded event owned by caller.
func (s *LedgerService) CreateEvent(ctx context.Context, caller string, req CreateEventRequest) (int64, error) {
	draft := model.NewEvent{
		Organizer:       model.NormalizeIdentity(caller),
		Name:            strings.TrimSpace(req.Name),
		StartTime:       req.StartTime,
		MaxParticipants: req.MaxParticipants,
		EscrowAmount:    req.EscrowAmount,
		Value:           req.Value,
		CreatedAt:       s.now().UTC(),
	}
	id, err := s.store.CreateEvent(ctx, draft)
	if err != nil {
		return 0, s.fail("create event", err, zap.String("organizer", draft.Organizer))
	}
	s.log.Info("event created",
		zap.Int64("event_id", id),
		zap.String("organizer", draft.Organizer),
		zap.Int("max_participants", draft.MaxParticipants),
		zap.Int64("reward_pool", draft.EscrowAmount),
		zap.Time("start_time", draft.StartTime),
	)
	return id, nil
}

// Register reserves a slot in eventID for caller.
func (s *LedgerService) Register(ctx context.Context, eventID int64, caller string) error {
	participant := model.NormalizeIdentity(caller)
	if participant == "" {
		return fmt.Errorf("%w: caller identity is required", model.ErrInvalidParameters)
	}
	if err := s.store.Register(ctx, eventID, participant); err != nil {
		return s.fail("register", err, zap.Int64("event_id", eventID), zap.String("participant", participant))
	}
	s.log.Info("participant registered", zap.Int64("event_id", eventID), zap.String("participant", participant))
	return nil
}

// CheckInRequest names the participant being checked in and the proof that
// attests their presence.
type CheckInRequest struct {
	Participant string
	Proof       string
}

// CheckIn verifies the proof, then records the arrival and pays any reward.
// Proof verification happens before the store is touched.
func (s *LedgerService) CheckIn(ctx context.Context, eventID int64, caller string, req CheckInRequest) (*model.CheckIn, error) {
	participant := model.NormalizeIdentity(req.Participant)
	fields := []zap.Field{zap.Int64("event_id", eventID), zap.String("participant", participant)}
	if participant == "" {
		return nil, fmt.Errorf("%w: participant is required", model.ErrInvalidParameters)
	}
	if s.attestor == nil {
		return nil, s.fail("check in", fmt.Errorf("%w: no attestor configured", model.ErrUnauthorized), fields...)
	}
	if err := s.attestor.Verify(ctx, req.Proof, eventID, participant); err != nil {
		if !errors.Is(err, model.ErrUnauthorized) {
			err = fmt.Errorf("%w: %v", model.ErrUnauthorized, err)
		}
		return nil, s.fail("check in", err, fields...)
	}

	rec, err := s.store.CheckIn(ctx, eventID, participant, caller)
	if err != nil {
		return nil, s.fail("check in", err, fields...)
	}
	s.log.Info("participant checked in",
		append(fields,
			zap.Int("position", rec.Position),
			zap.Int64("reward", rec.Reward),
			zap.String("checked_in_by", rec.CheckedInBy),
		)...,
	)
	return rec, nil
}

// IssuePass mints a check-in pass for caller, who must be registered for an
// active event.
func (s *LedgerService) IssuePass(ctx context.Context, eventID int64, caller string) (checkinpass.Pass, error) {
	participant := model.NormalizeIdentity(caller)
	if s.passes == nil {
		return checkinpass.Pass{}, errors.New("check-in passes are not enabled")
	}
	d, err := s.store.EventDetails(ctx, eventID)
	if err != nil {
		return checkinpass.Pass{}, err
	}
	if !d.IsActive {
		return checkinpass.Pass{}, model.ErrNotFound
	}
	ok, err := s.store.IsRegistered(ctx, eventID, participant)
	if err != nil {
		return checkinpass.Pass{}, fmt.Errorf("check registration: %w", err)
	}
	if !ok {
		return checkinpass.Pass{}, model.ErrNotRegistered
	}
	pass, err := s.passes.Issue(eventID, participant)
	if err != nil {
		return checkinpass.Pass{}, fmt.Errorf("issue pass: %w", err)
	}
	s.log.Debug("check-in pass issued", zap.Int64("event_id", eventID), zap.String("participant", participant))
	return pass, nil
}

// DeactivateEvent deactivates eventID on behalf of its organizer.
func (s *LedgerService) DeactivateEvent(ctx context.Context, eventID int64, caller string) error {
	if err := s.store.Deactivate(ctx, eventID, caller); err != nil {
		return s.fail("deactivate event", err, zap.Int64("event_id", eventID), zap.String("caller", caller))
	}
	s.log.Info("event deactivated", zap.Int64("event_id", eventID), zap.String("organizer", model.NormalizeIdentity(caller)))
	return nil
}

// GetEvent returns details for any existing event.
func (s *LedgerService) GetEvent(ctx context.Context, eventID int64) (*model.EventDetails, error) {
	return s.store.EventDetails(ctx, eventID)
}

// IsRegistered reports whether participant is registered for eventID.
func (s *LedgerService) IsRegistered(ctx context.Context, eventID int64, participant string) (bool, error) {
	return s.store.IsRegistered(ctx, eventID, participant)
}

// EventCount returns the number of events ever created.
func (s *LedgerService) EventCount(ctx context.Context) (int64, error) {
	return s.store.EventCount(ctx)
}

// ListActiveEvents enumerates ids 0..count-1 and returns the active events.
func (s *LedgerService) ListActiveEvents(ctx context.Context) ([]model.EventDetails, error) {
	count, err := s.store.EventCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	events := make([]model.EventDetails, 0, count)
	for id := int64(0); id < count; id++ {
		d, err := s.store.EventDetails(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get event %d: %w", id, err)
		}
		if d.IsActive {
			events = append(events, *d)
		}
	}
	return events, nil
}

// ListRegistrants returns the registrations for eventID.
func (s *LedgerService) ListRegistrants(ctx context.Context, eventID int64) ([]model.Registration, error) {
	return s.store.Registrants(ctx, eventID)
}

// ListCheckIns returns the check-ins for eventID in arrival order.
func (s *LedgerService) ListCheckIns(ctx context.Context, eventID int64) ([]model.CheckIn, error) {
	return s.store.CheckIns(ctx, eventID)
}

// Balance returns what identity has been paid across all events.
func (s *LedgerService) Balance(ctx context.Context, identity string) (int64, error) {
	return s.store.Balance(ctx, identity)
}

// fail logs a failed mutation at a level matching its kind and returns err.
// Caller errors are expected traffic; InsufficientEscrow means the ledger
// broke its own funding invariant.
func (s *LedgerService) fail(op string, err error, fields ...zap.Field) error {
	fields = append(fields, zap.String("op", op), zap.Error(err))
	switch {
	case errors.Is(err, model.ErrInsufficientEscrow):
		s.log.Error("escrow invariant violated", fields...)
	case isDomainError(err):
		s.log.Debug("operation rejected", fields...)
	default:
		s.log.Error("operation failed", fields...)
	}
	return err
}

func isDomainError(err error) bool {
	for _, kind := range []error{
		model.ErrInvalidParameters,
		model.ErrNotFound,
		model.ErrAlreadyRegistered,
		model.ErrEventFull,
		model.ErrNotRegistered,
		model.ErrAlreadyCheckedIn,
		model.ErrUnauthorized,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
