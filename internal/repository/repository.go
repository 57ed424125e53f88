// Package repository implements the Event Ledger on PostgreSQL.
// It uses pgx directly (no ORM) so every lock and statement is visible.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepository is a durable Event Ledger backed by PostgreSQL.
//
// ─────────────────────────────────────────────────────────────────────────────
// SERIALIZATION
// ─────────────────────────────────────────────────────────────────────────────
//
// Every mutation of an event runs in one transaction that starts with
//
//	SELECT … FROM events WHERE id = $1 FOR UPDATE
//
// The row lock serialises register/check-in/deactivate on the same event while
// leaving other events untouched. Capacity, duplicate and position checks
// happen after the lock is held, so no two transactions can both observe the
// pre-mutation state. The check-in insert, the escrow debit and the balance
// credit commit together or not at all.
//
// Event ids come from the single ledger_state row, incremented inside the
// create transaction, so ids are gap-free and creates serialise only with
// each other.
// ─────────────────────────────────────────────────────────────────────────────
type LedgerRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewLedgerRepository constructs a LedgerRepository.
func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db, now: time.Now}
}

// inTx runs fn in a transaction, committing on success and rolling back on
// any error.
func (r *LedgerRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Ensure the transaction is always resolved.
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateEvent inserts a funded event and returns its sequential id.
func (r *LedgerRepository) CreateEvent(ctx context.Context, draft model.NewEvent) (int64, error) {
	draft.Organizer = model.NormalizeIdentity(draft.Organizer)
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = r.now().UTC()
	}
	if err := draft.Validate(); err != nil {
		return 0, err
	}

	var id int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`UPDATE ledger_state
			 SET next_event_id = next_event_id + 1
			 WHERE singleton
			 RETURNING next_event_id - 1`,
		).Scan(&id); err != nil {
			return fmt.Errorf("allocate event id: %w", err)
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO events
			   (id, organizer, name, start_time, max_participants, reward_pool, escrow, is_active, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $6, TRUE, $7)`,
			id, draft.Organizer, draft.Name, draft.StartTime.UTC(), draft.MaxParticipants,
			draft.EscrowAmount, draft.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// lockedEvent is the subset of the event row read under FOR UPDATE.
type lockedEvent struct {
	organizer       string
	maxParticipants int
	rewardPool      int64
	escrow          int64
	isActive        bool
	registered      int
	checkedIn       int
}

func lockEvent(ctx context.Context, tx pgx.Tx, eventID int64) (*lockedEvent, error) {
	var e lockedEvent
	err := tx.QueryRow(ctx,
		`SELECT organizer, max_participants, reward_pool, escrow, is_active, registered_count, checked_in_count
		 FROM events
		 WHERE id = $1
		 FOR UPDATE`,
		eventID,
	).Scan(&e.organizer, &e.maxParticipants, &e.rewardPool, &e.escrow, &e.isActive, &e.registered, &e.checkedIn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("lock event row: %w", err)
	}
	return &e, nil
}

// Register adds participant to the event's registrants.
func (r *LedgerRepository) Register(ctx context.Context, eventID int64, participant string) error {
	participant = model.NormalizeIdentity(participant)
	if participant == "" {
		return fmt.Errorf("%w: participant is required", model.ErrInvalidParameters)
	}

	return r.inTx(ctx, func(tx pgx.Tx) error {
		ev, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if !ev.isActive {
			return model.ErrNotFound
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM registrations WHERE event_id = $1 AND participant = $2)`,
			eventID, participant,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check duplicate: %w", err)
		}
		if exists {
			return model.ErrAlreadyRegistered
		}

		if ev.registered >= ev.maxParticipants {
			return model.ErrEventFull
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO registrations (event_id, participant, seq, created_at)
			 VALUES ($1, $2, $3, $4)`,
			eventID, participant, ev.registered+1, r.now().UTC(),
		); err != nil {
			return fmt.Errorf("insert registration: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE events SET registered_count = registered_count + 1 WHERE id = $1`,
			eventID,
		); err != nil {
			return fmt.Errorf("increment registered_count: %w", err)
		}
		return nil
	})
}

// CheckIn appends participant to the check-in sequence and pays the reward
// owed to the resulting position, all in one transaction.
func (r *LedgerRepository) CheckIn(ctx context.Context, eventID int64, participant, caller string) (*model.CheckIn, error) {
	participant = model.NormalizeIdentity(participant)

	var rec *model.CheckIn
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		ev, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if !ev.isActive {
			return model.ErrNotFound
		}

		var registered, checkedIn bool
		if err := tx.QueryRow(ctx,
			`SELECT
			   EXISTS (SELECT 1 FROM registrations WHERE event_id = $1 AND participant = $2),
			   EXISTS (SELECT 1 FROM check_ins WHERE event_id = $1 AND participant = $2)`,
			eventID, participant,
		).Scan(&registered, &checkedIn); err != nil {
			return fmt.Errorf("check participant: %w", err)
		}
		if !registered {
			return model.ErrNotRegistered
		}
		if checkedIn {
			return model.ErrAlreadyCheckedIn
		}

		position := ev.checkedIn + 1
		reward := model.RewardShare(ev.rewardPool, position)
		if reward > ev.escrow {
			return fmt.Errorf("%w: event %d owes %d at position %d but holds %d",
				model.ErrInsufficientEscrow, eventID, reward, position, ev.escrow)
		}

		rec = &model.CheckIn{
			ID:          uuid.New().String(),
			EventID:     eventID,
			Participant: participant,
			Position:    position,
			Reward:      reward,
			CheckedInBy: model.NormalizeIdentity(caller),
			CreatedAt:   r.now().UTC(),
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO check_ins (id, event_id, participant, position, reward, checked_in_by, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.ID, rec.EventID, rec.Participant, rec.Position, rec.Reward, rec.CheckedInBy, rec.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert check-in: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE events
			 SET checked_in_count = checked_in_count + 1, escrow = escrow - $2
			 WHERE id = $1`,
			eventID, reward,
		); err != nil {
			return fmt.Errorf("debit escrow: %w", err)
		}
		if reward > 0 {
			if _, err := tx.Exec(ctx,
				`INSERT INTO balances (identity, amount) VALUES ($1, $2)
				 ON CONFLICT (identity) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`,
				participant, reward,
			); err != nil {
				return fmt.Errorf("credit balance: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Deactivate marks an event inactive. Only the organizer may do so.
func (r *LedgerRepository) Deactivate(ctx context.Context, eventID int64, caller string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		ev, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if ev.organizer != model.NormalizeIdentity(caller) {
			return fmt.Errorf("%w: only the organizer can deactivate event %d", model.ErrUnauthorized, eventID)
		}
		if _, err := tx.Exec(ctx, `UPDATE events SET is_active = FALSE WHERE id = $1`, eventID); err != nil {
			return fmt.Errorf("deactivate event: %w", err)
		}
		return nil
	})
}

// EventDetails returns a single event, active or not, or ErrNotFound.
func (r *LedgerRepository) EventDetails(ctx context.Context, eventID int64) (*model.EventDetails, error) {
	var d model.EventDetails
	err := r.db.QueryRow(ctx,
		`SELECT id, organizer, name, start_time, max_participants, reward_pool, escrow,
		        is_active, created_at, registered_count, checked_in_count
		 FROM events WHERE id = $1`,
		eventID,
	).Scan(&d.ID, &d.Organizer, &d.Name, &d.StartTime, &d.MaxParticipants, &d.RewardPool, &d.Escrow,
		&d.IsActive, &d.CreatedAt, &d.RegisteredCount, &d.CheckedInCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	d.StartTime = d.StartTime.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

// IsRegistered reports whether participant holds a slot; unknown events
// report false.
func (r *LedgerRepository) IsRegistered(ctx context.Context, eventID int64, participant string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM registrations WHERE event_id = $1 AND participant = $2)`,
		eventID, model.NormalizeIdentity(participant),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check registration: %w", err)
	}
	return ok, nil
}

// EventCount returns the number of events ever created.
func (r *LedgerRepository) EventCount(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT next_event_id FROM ledger_state WHERE singleton`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Registrants returns the event's registrations in insertion order.
func (r *LedgerRepository) Registrants(ctx context.Context, eventID int64) ([]model.Registration, error) {
	if err := r.exists(ctx, eventID); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx,
		`SELECT event_id, participant, created_at
		 FROM registrations
		 WHERE event_id = $1
		 ORDER BY seq ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		var reg model.Registration
		if err := rows.Scan(&reg.EventID, &reg.Participant, &reg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		reg.CreatedAt = reg.CreatedAt.UTC()
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// CheckIns returns the event's check-ins in arrival order.
func (r *LedgerRepository) CheckIns(ctx context.Context, eventID int64) ([]model.CheckIn, error) {
	if err := r.exists(ctx, eventID); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, event_id, participant, position, reward, checked_in_by, created_at
		 FROM check_ins
		 WHERE event_id = $1
		 ORDER BY position ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list check-ins: %w", err)
	}
	defer rows.Close()

	var recs []model.CheckIn
	for rows.Next() {
		var (
			rec model.CheckIn
			id  uuid.UUID
		)
		if err := rows.Scan(&id, &rec.EventID, &rec.Participant, &rec.Position, &rec.Reward, &rec.CheckedInBy, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan check-in: %w", err)
		}
		rec.ID = id.String()
		rec.CreatedAt = rec.CreatedAt.UTC()
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Balance returns the total paid out to identity across all events.
func (r *LedgerRepository) Balance(ctx context.Context, identity string) (int64, error) {
	var amount int64
	err := r.db.QueryRow(ctx,
		`SELECT amount FROM balances WHERE identity = $1`,
		model.NormalizeIdentity(identity),
	).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return amount, nil
}

func (r *LedgerRepository) exists(ctx context.Context, eventID int64) error {
	var ok bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`, eventID).Scan(&ok); err != nil {
		return fmt.Errorf("check event: %w", err)
	}
	if !ok {
		return model.ErrNotFound
	}
	return nil
}
