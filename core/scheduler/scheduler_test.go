package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxfret/cascade/core/model"
	"github.com/fluxfret/cascade/core/storage"
	"github.com/fluxfret/cascade/internal/clock"
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}

type recordingDriver struct {
	mu       sync.Mutex
	reminds  []string
	timeouts []string
	resumes  []string
}

func (d *recordingDriver) Remind(_ context.Context, chainID string) (*model.DispatchChain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reminds = append(d.reminds, chainID)
	return nil, nil
}

func (d *recordingDriver) Timeout(_ context.Context, chainID string, _ int) (*model.DispatchChain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeouts = append(d.timeouts, chainID)
	return nil, nil
}

func (d *recordingDriver) Resume(_ context.Context, chainID string) (*model.DispatchChain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resumes = append(d.resumes, chainID)
	return nil, nil
}

func sentChain(id string, sentAt time.Time, window time.Duration) *model.DispatchChain {
	expires := sentAt.Add(window)
	return &model.DispatchChain{
		ID:      id,
		OrderID: "ord-" + id,
		Status:  model.ChainInProgress,
		Attempts: []model.DispatchAttempt{{
			CarrierID: "c1", Position: 1, Status: model.AttemptSent,
			WindowMinutes: int(window.Minutes()),
			SentAt:        &sentAt, ExpiresAt: &expires,
		}},
		CreatedAt: sentAt,
		UpdatedAt: sentAt,
	}
}

func TestTickFiresTimeoutsAndReminders(t *testing.T) {
	base := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(base)
	chains := storage.NewMemoryChainStore()
	ctx := context.Background()

	// expired passed its deadline, due is halfway through its window,
	// fresh was just sent.
	require.NoError(t, chains.Create(ctx, sentChain("expired", base.Add(-2*time.Hour), time.Hour)))
	require.NoError(t, chains.Create(ctx, sentChain("due", base.Add(-31*time.Minute), time.Hour)))
	require.NoError(t, chains.Create(ctx, sentChain("fresh", base.Add(-time.Minute), time.Hour)))

	driver := &recordingDriver{}
	s, err := New(Config{IntervalSeconds: 60, Workers: 2}, chains, driver, clk, nopLogger{}, nil)
	require.NoError(t, err)

	s.Tick(ctx)

	assert.Equal(t, []string{"expired"}, driver.timeouts)
	assert.Equal(t, []string{"due"}, driver.reminds)
}

// An in-progress chain whose current attempt is still pending, or whose
// cascade is fully resolved, was stranded by a failed continuation. The tick
// hands both shapes to Resume instead of skipping them.
func TestTickResumesStrandedChains(t *testing.T) {
	base := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(base)
	chains := storage.NewMemoryChainStore()
	ctx := context.Background()

	pending := sentChain("pending", base, time.Hour)
	pending.Attempts[0].Status = model.AttemptPending
	pending.Attempts[0].SentAt = nil
	pending.Attempts[0].ExpiresAt = nil
	require.NoError(t, chains.Create(ctx, pending))

	exhausted := sentChain("exhausted", base.Add(-2*time.Hour), time.Hour)
	exhausted.Attempts[0].Status = model.AttemptTimeout
	exhausted.CurrentIndex = 1
	require.NoError(t, chains.Create(ctx, exhausted))

	driver := &recordingDriver{}
	s, err := New(Config{}, chains, driver, clk, nopLogger{}, nil)
	require.NoError(t, err)

	s.Tick(ctx)
	assert.ElementsMatch(t, []string{"pending", "exhausted"}, driver.resumes)
	assert.Empty(t, driver.timeouts)
	assert.Empty(t, driver.reminds)
}

func TestTimeoutWinsOverReminderAtExpiry(t *testing.T) {
	base := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(base)
	chains := storage.NewMemoryChainStore()
	ctx := context.Background()

	// Past the deadline the attempt is both reminder-due and expired; only
	// the timeout may fire.
	require.NoError(t, chains.Create(ctx, sentChain("both", base.Add(-90*time.Minute), time.Hour)))

	driver := &recordingDriver{}
	s, err := New(Config{}, chains, driver, clk, nopLogger{}, nil)
	require.NoError(t, err)

	s.Tick(ctx)
	assert.Equal(t, []string{"both"}, driver.timeouts)
	assert.Empty(t, driver.reminds)
}

func TestStartStop(t *testing.T) {
	chains := storage.NewMemoryChainStore()
	driver := &recordingDriver{}
	s, err := New(Config{IntervalSeconds: 1}, chains, driver, clock.Real{}, nopLogger{}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))
	s.Stop()
	// Stopping twice is safe.
	s.Stop()
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	assert.Equal(t, 60, cfg.IntervalSeconds)
	assert.Equal(t, 8, cfg.Workers)
}
