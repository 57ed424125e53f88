package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-checkin-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var testNow = time.Date(2026, time.October, 1, 9, 0, 0, 0, time.UTC)

func newTestLedger() *Ledger {
	return New(WithClock(func() time.Time { return testNow }))
}

func draft(pool int64, maxParticipants int) model.NewEvent {
	return model.NewEvent{
		Organizer:       "0xOrganizer",
		Name:            "Devcon side event",
		StartTime:       testNow.Add(24 * time.Hour),
		MaxParticipants: maxParticipants,
		EscrowAmount:    pool,
		Value:           pool,
	}
}

func mustCreate(t *testing.T, l *Ledger, pool int64, maxParticipants int) int64 {
	t.Helper()
	id, err := l.CreateEvent(context.Background(), draft(pool, maxParticipants))
	require.NoError(t, err)
	return id
}

func TestCreateEventAssignsSequentialIDs(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	for want := int64(0); want < 3; want++ {
		id, err := l.CreateEvent(ctx, draft(100, 5))
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	count, err := l.EventCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	d, err := l.EventDetails(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "0xorganizer", d.Organizer)
	assert.Equal(t, int64(100), d.RewardPool)
	assert.Equal(t, int64(100), d.Escrow)
	assert.True(t, d.IsActive)
	assert.Zero(t, d.RegisteredCount)
	assert.Zero(t, d.CheckedInCount)
	assert.Equal(t, testNow, d.CreatedAt)
}

func TestCreateEventRejectsZeroCapacityWithoutSideEffect(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	mustCreate(t, l, 100, 5)

	_, err := l.CreateEvent(ctx, draft(100, 0))
	require.ErrorIs(t, err, model.ErrInvalidParameters)

	count, err := l.EventCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCreateEventRejectsPastStart(t *testing.T) {
	l := newTestLedger()
	d := draft(100, 5)
	d.StartTime = testNow.Add(-time.Second)

	_, err := l.CreateEvent(context.Background(), d)
	require.ErrorIs(t, err, model.ErrInvalidParameters)
}

func TestRegisterTwiceIsRejected(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	id := mustCreate(t, l, 100, 5)

	require.NoError(t, l.Register(ctx, id, "0xA"))
	err := l.Register(ctx, id, "0xa")
	require.ErrorIs(t, err, model.ErrAlreadyRegistered)

	d, err := l.EventDetails(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, d.RegisteredCount)
}

func TestRegisterCapacity(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	id := mustCreate(t, l, 100, 2)

	require.NoError(t, l.Register(ctx, id, "a"))
	require.NoError(t, l.Register(ctx, id, "b"))
	require.ErrorIs(t, l.Register(ctx, id, "c"), model.ErrEventFull)

	regs, err := l.Registrants(ctx, id)
	require.NoError(t, err)
	require.Len(t, regs, 2)
	assert.Equal(t, "a", regs[0].Participant)
	assert.Equal(t, "b", regs[1].Participant)
}

func TestRegisterUnknownEvent(t *testing.T) {
	l := newTestLedger()
	require.ErrorIs(t, l.Register(context.Background(), 7, "a"), model.ErrNotFound)
	require.ErrorIs(t, l.Register(context.Background(), -1, "a"), model.ErrNotFound)
}

func TestCheckInScenario(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	id := mustCreate(t, l, 100, 5)

	for _, p := range []string{"A", "B", "C", "D"} {
		require.NoError(t, l.Register(ctx, id, p))
	}

	wantRewards := map[string]int64{"c": 50, "a": 30, "d": 20, "b": 0}
	for i, p := range []string{"C", "A", "D", "B"} {
		rec, err := l.CheckIn(ctx, id, p, "0xorganizer")
		require.NoError(t, err)
		assert.Equal(t, i+1, rec.Position)
		assert.Equal(t, wantRewards[model.NormalizeIdentity(p)], rec.Reward)
		assert.NotEmpty(t, rec.ID)
	}

	for p, want := range wantRewards {
		got, err := l.Balance(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, want, got, "balance of %s", p)
	}

	recs, err := l.CheckIns(ctx, id)
	require.NoError(t, err)
	order := make([]string, len(recs))
	for i, r := range recs {
		order[i] = r.Participant
	}
	assert.Equal(t, []string{"c", "a", "d", "b"}, order)

	_, err = l.CheckIn(ctx, id, "C", "0xorganizer")
	require.ErrorIs(t, err, model.ErrAlreadyCheckedIn)

	d, err := l.EventDetails(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, d.CheckedInCount)
	assert.Equal(t, int64(100), d.RewardPool)
	assert.Equal(t, int64(0), d.Escrow)
}

func TestCheckInUnregistered(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	id := mustCreate(t, l, 100, 5)
	require.NoError(t, l.Register(ctx, id, "a"))

	_, err := l.CheckIn(ctx, id, "stranger", "org")
	require.ErrorIs(t, err, model.ErrNotRegistered)

	recs, err := l.CheckIns(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRoundingDustStaysInEscrow(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	id := mustCreate(t, l, 7, 5)
	for _, p := range []string{"a", "b", "c", "d"} {
		require.NoError(t, l.Register(ctx, id, p))
		_, err := l.CheckIn(ctx, id, p, "org")
		require.NoError(t, err)
	}

	d, err := l.EventDetails(ctx, id)
	require.NoError(t, err)
	// 3 + 2 + 1 paid, 1 unit of dust remains.
	assert.Equal(t, int64(1), d.Escrow)
	bal, err := l.Balance(ctx, "d")
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestDeactivate(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	id := mustCreate(t, l, 100, 5)
	require.NoError(t, l.Register(ctx, id, "a"))

	err := l.Deactivate(ctx, id, "someone-else")
	require.ErrorIs(t, err, model.ErrUnauthorized)

	require.NoError(t, l.Deactivate(ctx, id, "0xORGANIZER"))
	require.NoError(t, l.Deactivate(ctx, id, "0xorganizer"))

	require.ErrorIs(t, l.Register(ctx, id, "b"), model.ErrNotFound)
	_, err = l.CheckIn(ctx, id, "a", "org")
	require.ErrorIs(t, err, model.ErrNotFound)

	d, err := l.EventDetails(ctx, id)
	require.NoError(t, err)
	assert.False(t, d.IsActive)
	assert.Equal(t, int64(100), d.Escrow)
}

func TestIsRegistered(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	id := mustCreate(t, l, 100, 5)
	require.NoError(t, l.Register(ctx, id, "a"))

	ok, err := l.IsRegistered(ctx, id, " A ")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.IsRegistered(ctx, id, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.IsRegistered(ctx, 42, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEventDetailsUnknown(t *testing.T) {
	_, err := newTestLedger().EventDetails(context.Background(), 0)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestInsufficientEscrowLeavesStateUntouched(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	id := mustCreate(t, l, 100, 5)
	require.NoError(t, l.Register(ctx, id, "a"))

	agg, _ := l.lookup(id)
	agg.event.Escrow = 10 // simulate a corrupted aggregate

	_, err := l.CheckIn(ctx, id, "a", "org")
	require.ErrorIs(t, err, model.ErrInsufficientEscrow)

	recs, err := l.CheckIns(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, recs)
	bal, err := l.Balance(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestCanceledContext(t *testing.T) {
	l := newTestLedger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.CreateEvent(ctx, draft(100, 5))
	require.ErrorIs(t, err, context.Canceled)
	count, err := l.EventCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestConcurrentCheckInsAssignEveryPositionOnce(t *testing.T) {
	const n = 64
	l := newTestLedger()
	ctx := context.Background()
	id := mustCreate(t, l, 1_000_003, n)

	participants := make([]string, n)
	for i := range participants {
		participants[i] = fmt.Sprintf("0xp%02d", i)
		require.NoError(t, l.Register(ctx, id, participants[i]))
	}

	var (
		mu      sync.Mutex
		results []*model.CheckIn
	)
	var g errgroup.Group
	for _, p := range participants {
		p := p
		g.Go(func() error {
			rec, err := l.CheckIn(ctx, id, p, "org")
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, rec)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, results, n)

	sort.Slice(results, func(i, j int) bool { return results[i].Position < results[j].Position })
	var paid int64
	seen := make(map[string]bool, n)
	for i, rec := range results {
		assert.Equal(t, i+1, rec.Position)
		assert.False(t, seen[rec.Participant], "duplicate %s", rec.Participant)
		seen[rec.Participant] = true
		paid += rec.Reward
	}
	assert.Equal(t, model.TotalRewards(1_000_003, n), paid)

	d, err := l.EventDetails(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_003)-paid, d.Escrow)
}

func TestConcurrentDuplicateCheckInsPayOnce(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	id := mustCreate(t, l, 100, 5)
	require.NoError(t, l.Register(ctx, id, "a"))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		dupes     int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.CheckIn(ctx, id, "a", "org")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, model.ErrAlreadyCheckedIn):
				dupes++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 19, dupes)
	bal, err := l.Balance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal)
}

func TestConcurrentRegistrationsNeverOverfill(t *testing.T) {
	const capacity = 10
	l := newTestLedger()
	ctx := context.Background()
	id := mustCreate(t, l, 100, capacity)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		full int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := l.Register(ctx, id, fmt.Sprintf("user-%d", i))
			if errors.Is(err, model.ErrEventFull) {
				mu.Lock()
				full++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	regs, err := l.Registrants(ctx, id)
	require.NoError(t, err)
	assert.Len(t, regs, capacity)
	assert.Equal(t, 50-capacity, full)
}

func TestConcurrentCreatesGetDistinctIDs(t *testing.T) {
	const n = 32
	l := newTestLedger()

	ids := make([]int64, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			id, err := l.CreateEvent(context.Background(), draft(100, 1))
			ids[i] = id
			return err
		})
	}
	require.NoError(t, g.Wait())

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		assert.Equal(t, int64(i), id)
	}
}
