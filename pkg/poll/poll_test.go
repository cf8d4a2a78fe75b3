package poll_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/shufflegate/pkg/checkpoint"
	"github.com/Sumatoshi-tech/shufflegate/pkg/gate"
	"github.com/Sumatoshi-tech/shufflegate/pkg/ledger"
	"github.com/Sumatoshi-tech/shufflegate/pkg/persist"
	"github.com/Sumatoshi-tech/shufflegate/pkg/poll"
	"github.com/Sumatoshi-tech/shufflegate/pkg/rowcount"
	"github.com/Sumatoshi-tech/shufflegate/pkg/window"
)

const (
	testCheckWait = 30 * time.Second
	testSettle    = 3 * time.Second
)

var errUnreadable = errors.New("unreadable")

// contentCounter reads the row count written as the file body.
var contentCounter = rowcount.CounterFunc(func(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	if strings.TrimSpace(string(data)) == "bad" {
		return 0, errUnreadable
	}

	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
})

type fakeSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
	onWait func(n int) error
	waits  int
}

func (f *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sleeps = append(f.sleeps, d)

	if d != testCheckWait || f.onWait == nil {
		return nil
	}

	f.waits++

	return f.onWait(f.waits)
}

type fakeTriggers struct {
	entries []ledger.Entry
	err     error
}

func (f *fakeTriggers) Append(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	if f.err != nil {
		return ledger.Entry{}, f.err
	}

	f.entries = append(f.entries, e)

	return e, nil
}

type fixture struct {
	dir      string
	store    *checkpoint.Store
	sleeper  *fakeSleeper
	triggers *fakeTriggers
	cfg      poll.Config
	now      time.Time
	files    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()

	f := &fixture{
		dir:      filepath.Join(dir, "selfplay"),
		store:    checkpoint.NewStore(filepath.Join(dir, "state", "record.json")),
		sleeper:  &fakeSleeper{},
		triggers: &fakeTriggers{},
		now:      time.Unix(1_700_000_000, 0),
	}

	f.cfg = poll.Config{
		Directories: []string{f.dir},
		Window: window.Params{
			MinRows:             200,
			ExpandWindowPerRow:  1.0,
			TaperWindowExponent: 1.0,
		},
		Gate:                   gate.Policy{MinNewRows: 100, WindowFactor: 1.0},
		CheckWait:              testCheckWait,
		SettleDelay:            testSettle,
		Workers:                2,
		LoadPolicy:             persist.RetryPolicy{Attempts: 1, Delay: time.Millisecond},
		ReferenceRowsPerSecond: 7.7,
	}

	require.NoError(t, os.MkdirAll(f.dir, 0o750))

	return f
}

func (f *fixture) addFile(t *testing.T, sub string, body string) {
	t.Helper()

	f.files++
	path := filepath.Join(f.dir, sub, fmt.Sprintf("data%03d.npz", f.files))

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	mtime := time.Unix(1_700_000_000+int64(f.files), 0)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func (f *fixture) loop(t *testing.T) *poll.Loop {
	t.Helper()

	l, err := poll.New(f.cfg, poll.Deps{
		Counter:      contentCounter,
		Store:        f.store,
		Triggers:     f.triggers,
		Sleeper:      f.sleeper,
		Now:          func() time.Time { return f.now },
		InvocationID: "test-invocation",
	})
	require.NoError(t, err)

	return l
}

func TestRun_FirstInvocationTriggersImmediately(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addFile(t, "net1/tdata", "100")
	f.addFile(t, "net1/tdata", "100")
	f.addFile(t, "net1/tdata", "100")

	it, err := f.loop(t).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, it.Ready())
	assert.False(t, it.RecordFound)
	assert.Equal(t, int64(300), it.Totals.UsableRows())
	assert.Equal(t, int64(300), it.DesiredWindow)
	assert.Equal(t, []time.Duration{testSettle}, f.sleeper.sleeps)

	rec, found, err := f.store.Load()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, checkpoint.Record{LastRows: 300, ExpectRows: 400, LastWindow: 300}, rec)

	require.Len(t, f.triggers.entries, 1)
	assert.Equal(t, "test-invocation", f.triggers.entries[0].InvocationID)
	assert.Equal(t, int64(300), f.triggers.entries[0].ExpectBefore)
	assert.Equal(t, int64(400), f.triggers.entries[0].ExpectAfter)
}

func TestRun_DeferFirstTriggerWaitsForNewRows(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.DeferFirstTrigger = true
	f.addFile(t, "net1/tdata", "300")

	f.sleeper.onWait = func(int) error {
		f.addFile(t, "net1/tdata", "100")
		f.now = f.now.Add(testCheckWait)

		return nil
	}

	it, err := f.loop(t).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, it.Ready())
	assert.Equal(t, int64(400), it.Totals.UsableRows())
	assert.Equal(t, 1, f.sleeper.waits)
}

func TestRun_WaitsUntilExpectationMet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.store.Save(checkpoint.Record{LastRows: 200, ExpectRows: 500, LastWindow: 200}))

	f.addFile(t, "net1/tdata", "150")
	f.addFile(t, "net1/tdata", "150")

	var outcomes []poll.Outcome

	f.sleeper.onWait = func(int) error {
		f.addFile(t, "net2/tdata", "100")
		f.now = f.now.Add(testCheckWait)

		return nil
	}

	l := f.loop(t)

	for {
		it, err := l.Step(context.Background())
		require.NoError(t, err)

		outcomes = append(outcomes, it.Outcome)

		if it.Ready() {
			assert.Equal(t, int64(500), it.Totals.UsableRows())
			assert.Equal(t, int64(500), it.Decision.ExpectRows)

			break
		}

		assert.Equal(t, int64(500)-it.Totals.UsableRows(), it.Missing)
		require.NoError(t, f.sleeper.Sleep(context.Background(), testCheckWait))
	}

	assert.Equal(t, []poll.Outcome{poll.OutcomeWaiting, poll.OutcomeWaiting, poll.OutcomeReady}, outcomes)

	rec, _, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(500), rec.LastRows)
	assert.Equal(t, int64(600), rec.ExpectRows)
}

func TestRun_BacklogIsCarriedForward(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Window.ExpandWindowPerRow = 0
	require.NoError(t, f.store.Save(checkpoint.Record{LastRows: 0, ExpectRows: 100, LastWindow: 200}))

	for range 5 {
		f.addFile(t, "net1/tdata", "100")
	}

	it, err := f.loop(t).Step(context.Background())
	require.NoError(t, err)
	require.True(t, it.Ready())

	// usable 500, window 200: base 300+100=400, rate 100/200=0.5, +50.
	assert.Equal(t, int64(200), it.DesiredWindow)
	assert.Equal(t, int64(450), it.Next.ExpectRows)
	assert.Equal(t, int64(50), it.CarriedRows)
}

func TestRun_NotEnoughRowsThenNoRegression(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addFile(t, "net1/tdata", "50")

	f.sleeper.onWait = func(int) error {
		f.addFile(t, "net1/tdata", "200")

		return nil
	}

	l := f.loop(t)

	first, err := l.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, poll.OutcomeNotEnoughRows, first.Outcome)
	assert.False(t, f.store.Exists())

	it, err := l.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, it.Ready())
	assert.Equal(t, int64(250), it.Totals.TotalRows)
}

func TestStep_NoRows(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	it, err := f.loop(t).Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, poll.OutcomeNoRows, it.Outcome)
	assert.Empty(t, f.sleeper.sleeps)
	assert.False(t, f.store.Exists())
}

func TestStep_RandomRowsAreCapped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addFile(t, "random/tdata", "150")
	f.addFile(t, "random/tdata", "150")
	f.addFile(t, "net1/tdata", "100")

	it, err := f.loop(t).Step(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(400), it.Totals.TotalRows)
	assert.Equal(t, int64(200), it.Totals.RandomRowsCapped)
	assert.Equal(t, int64(300), it.Totals.UsableRows())
}

func TestStep_BadFilesAreDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addFile(t, "net1/tdata", "300")
	f.addFile(t, "net1/tdata", "bad")

	it, err := f.loop(t).Step(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, it.Dropped)
	assert.Equal(t, 1, it.Stats.Excluded)
	assert.Equal(t, int64(300), it.Totals.TotalRows)
}

func TestStep_LedgerFailureDoesNotBlockTrigger(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.triggers.err = errUnreadable
	f.addFile(t, "net1/tdata", "300")

	it, err := f.loop(t).Step(context.Background())
	require.NoError(t, err)
	assert.True(t, it.Ready())
	assert.True(t, f.store.Exists())
}

func TestEvaluate_IsReadOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addFile(t, "net1/tdata", "300")

	it, err := f.loop(t).Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, poll.OutcomeReady, it.Outcome)
	require.NotNil(t, it.Next)
	assert.Empty(t, f.sleeper.sleeps)
	assert.False(t, f.store.Exists())
	assert.Empty(t, f.triggers.entries)
}

func TestStep_InvalidCheckpointIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addFile(t, "net1/tdata", "300")

	require.NoError(t, os.MkdirAll(filepath.Dir(f.store.Path()), 0o750))
	require.NoError(t, os.WriteFile(f.store.Path(), []byte(`{"last_rows": -1}`), 0o600))

	_, err := f.loop(t).Step(context.Background())
	require.ErrorIs(t, err, checkpoint.ErrInvalidRecord)

	data, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)
	assert.JSONEq(t, `{"last_rows": -1}`, string(data))
}

func TestStep_MissingSummaryIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.SummaryFile = filepath.Join(f.dir, "missing-summary.json")

	_, err := f.loop(t).Step(context.Background())
	require.ErrorIs(t, err, persist.ErrRetriesExhausted)
}

func TestRun_CancelLeavesCheckpointUntouched(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	original := checkpoint.Record{LastRows: 100, ExpectRows: 10_000, LastWindow: 200}
	require.NoError(t, f.store.Save(original))
	f.addFile(t, "net1/tdata", "300")

	ctx, cancel := context.WithCancel(context.Background())

	f.sleeper.onWait = func(int) error {
		cancel()

		return ctx.Err()
	}

	_, err := f.loop(t).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	rec, _, err := f.store.Load()
	require.NoError(t, err)
	assert.Equal(t, original, rec)
}

func TestNew_RequiresStoreAndCounter(t *testing.T) {
	t.Parallel()

	_, err := poll.New(poll.Config{}, poll.Deps{Counter: contentCounter})
	require.ErrorIs(t, err, poll.ErrMissingStore)

	_, err = poll.New(poll.Config{}, poll.Deps{Store: checkpoint.NewStore("x")})
	require.ErrorIs(t, err, poll.ErrMissingCounter)
}

func TestTimerSleeper(t *testing.T) {
	t.Parallel()

	var s poll.TimerSleeper

	require.NoError(t, s.Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, s.Sleep(ctx, time.Hour), context.Canceled)
	require.ErrorIs(t, s.Sleep(ctx, 0), context.Canceled)
}
