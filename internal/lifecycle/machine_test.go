package lifecycle

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinoosan/ptguard/internal/audit"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/downloader"
	"github.com/tinoosan/ptguard/internal/metrics"
	"github.com/tinoosan/ptguard/internal/policy"
	"github.com/tinoosan/ptguard/internal/repo"
	"github.com/tinoosan/ptguard/internal/scheduler"
)

const gib = policy.GiB

type fixture struct {
	m      *Machine
	store  repo.Store
	mem    *downloader.Memory
	events *audit.Log
	client *data.Client
	timers *fakeTimers
}

type fakeTimers struct {
	mu       sync.Mutex
	at       map[string]time.Time
	jobs     map[string]scheduler.Job
	canceled []string
}

func (f *fakeTimers) ScheduleOnce(id, _ string, at time.Time, job scheduler.Job) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.at[id] = at
	f.jobs[id] = job
	return at
}

func (f *fakeTimers) Cancel(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
	_, ok := f.at[id]
	delete(f.at, id)
	return ok
}

func newFixture(t *testing.T, c policy.Capacity) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repo.NewInMemory()
	require.NoError(t, store.PutSetting(ctx, policy.KeyCapacity, c))
	cl, err := store.AddClient(ctx, &data.Client{Name: "mem", Kind: data.ClientMemory})
	require.NoError(t, err)

	mem := downloader.NewMemory()
	f := downloader.NewFactory(nil)
	f.Register(data.ClientMemory, func(data.Client, *slog.Logger) (downloader.Client, error) { return mem, nil })

	timers := &fakeTimers{at: map[string]time.Time{}, jobs: map[string]scheduler.Job{}}
	events := audit.NewLog(50, nil)
	return &fixture{
		m:      New(store, f, timers, events, nil, Options{}),
		store:  store,
		mem:    mem,
		events: events,
		client: cl,
		timers: timers,
	}
}

func hash(c byte) string { return strings.Repeat(string(c), 40) }

func (fx *fixture) add(t *testing.T, it data.Item) *data.Item {
	t.Helper()
	if it.ClientID == 0 {
		it.ClientID = fx.client.ID
	}
	got, err := fx.store.AddItem(context.Background(), &it)
	require.NoError(t, err)
	return got
}

func (fx *fixture) status(t *testing.T, id int64) data.ItemStatus {
	t.Helper()
	it, err := fx.store.GetItem(context.Background(), id)
	require.NoError(t, err)
	return it.Status
}

func (fx *fixture) kinds() []audit.Kind {
	var out []audit.Kind
	for _, e := range fx.events.List(0) {
		out = append(out, e.Kind)
	}
	return out
}

func armed() policy.Capacity {
	return policy.Capacity{
		Enabled:              true,
		DeleteExpired:        true,
		ExpiredAction:        policy.ExpiryDelete,
		DeleteNonFree:        true,
		DynamicDeleteEnabled: true,
		DiskMaxGB:            1000,
		DiskTargetGB:         800,
		DeleteUnregistered:   true,
	}
}

func ago(d time.Duration) *time.Time {
	t := time.Now().Add(-d)
	return &t
}

func TestExpiryPausesHitAndRun(t *testing.T) {
	fx := newFixture(t, armed())
	ctx := context.Background()
	fx.mem.Put(downloader.Snapshot{Hash: hash('a'), State: downloader.StateDownloading})
	it := fx.add(t, data.Item{TorrentID: "1", InfoHash: hash('a'), Status: data.StatusDownloading,
		Discount: data.DiscountFree, DiscountEnd: ago(5 * time.Second), HitAndRun: true})

	require.NoError(t, fx.m.HandleExpiry(ctx, it.ID))
	assert.Equal(t, data.StatusExpiredPaused, fx.status(t, it.ID))
	snap, err := fx.mem.Status(ctx, hash('a'))
	require.NoError(t, err)
	assert.Equal(t, downloader.StatePaused, snap.State)
	assert.Contains(t, fx.kinds(), audit.KindPaused)
	assert.Contains(t, fx.timers.canceled, ExpiryJobID(it.ID))
}

func TestExpiryDeletesAndIsIdempotent(t *testing.T) {
	fx := newFixture(t, armed())
	ctx := context.Background()
	fx.mem.Put(downloader.Snapshot{Hash: hash('b'), State: downloader.StateSeeding})
	it := fx.add(t, data.Item{TorrentID: "2", InfoHash: hash('b'), Status: data.StatusSeeding,
		Discount: data.DiscountFree, DiscountEnd: ago(time.Minute)})

	require.NoError(t, fx.m.HandleExpiry(ctx, it.ID))
	assert.Equal(t, data.StatusExpiredDeleted, fx.status(t, it.ID))
	_, err := fx.mem.Status(ctx, hash('b'))
	assert.ErrorIs(t, err, downloader.ErrNotFound)

	events := len(fx.events.List(0))
	require.NoError(t, fx.m.HandleExpiry(ctx, it.ID))
	n, err := fx.m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, data.StatusExpiredDeleted, fx.status(t, it.ID))
	assert.Len(t, fx.events.List(0), events, "second run must not act again")
}

func TestDeadlineJobActsAtItsFireTime(t *testing.T) {
	fx := newFixture(t, armed())
	ctx := context.Background()
	fx.mem.Put(downloader.Snapshot{Hash: hash('f'), State: downloader.StateDownloading})
	end := time.Now().Add(time.Hour)
	it := fx.add(t, data.Item{TorrentID: "6", InfoHash: hash('f'), Status: data.StatusDownloading,
		Discount: data.DiscountFree, DiscountEnd: &end})

	fireAt := fx.m.ScheduleExpiry(it)
	require.True(t, fireAt.Before(end))
	job := fx.timers.jobs[ExpiryJobID(it.ID)]
	require.NotNil(t, job)

	fx.m.now = func() time.Time { return fireAt }
	require.NoError(t, job(ctx))
	assert.Equal(t, data.StatusExpiredDeleted, fx.status(t, it.ID))
	_, err := fx.mem.Status(ctx, hash('f'))
	assert.ErrorIs(t, err, downloader.ErrNotFound)
}

func TestExpiryIgnoresFutureAndUnknown(t *testing.T) {
	fx := newFixture(t, armed())
	ctx := context.Background()
	end := time.Now().Add(time.Hour)
	it := fx.add(t, data.Item{TorrentID: "3", InfoHash: hash('c'), Status: data.StatusDownloading, DiscountEnd: &end})
	none := fx.add(t, data.Item{TorrentID: "4", InfoHash: hash('d'), Status: data.StatusDownloading})

	require.NoError(t, fx.m.HandleExpiry(ctx, it.ID))
	require.NoError(t, fx.m.HandleExpiry(ctx, none.ID))
	require.NoError(t, fx.m.HandleExpiry(ctx, 9999))
	assert.Equal(t, data.StatusDownloading, fx.status(t, it.ID))
	assert.Equal(t, data.StatusDownloading, fx.status(t, none.ID))
}

func TestExpiryWithMissingClient(t *testing.T) {
	fx := newFixture(t, armed())
	ctx := context.Background()
	it := fx.add(t, data.Item{TorrentID: "5", InfoHash: hash('e'), Status: data.StatusDownloading,
		DiscountEnd: ago(time.Minute), ClientID: 404})

	require.NoError(t, fx.m.HandleExpiry(ctx, it.ID))
	assert.Equal(t, data.StatusExpiredDeleted, fx.status(t, it.ID))
	assert.Contains(t, fx.kinds(), audit.KindMissingClient)
}

func TestExpiryClientErrorLeavesStatus(t *testing.T) {
	fx := newFixture(t, armed())
	ctx := context.Background()
	fx.mem.Put(downloader.Snapshot{Hash: hash('f'), State: downloader.StateSeeding})
	it := fx.add(t, data.Item{TorrentID: "6", InfoHash: hash('f'), Status: data.StatusSeeding, DiscountEnd: ago(time.Minute)})
	fx.mem.SetErr(assert.AnError)

	assert.Error(t, fx.m.HandleExpiry(ctx, it.ID))
	assert.Equal(t, data.StatusSeeding, fx.status(t, it.ID))
}

func TestExpiryPolicyDisabledIsAudited(t *testing.T) {
	c := armed()
	c.DeleteExpired = false
	fx := newFixture(t, c)
	ctx := context.Background()
	a := fx.add(t, data.Item{TorrentID: "7", InfoHash: hash('g'), Status: data.StatusSeeding, DiscountEnd: ago(time.Minute)})
	b := fx.add(t, data.Item{TorrentID: "8", InfoHash: hash('h'), Status: data.StatusDownloading, DiscountEnd: ago(time.Minute)})

	before := testutil.ToFloat64(metrics.SafetySkips.WithLabelValues("policy_disabled"))
	require.NoError(t, fx.m.HandleExpiry(ctx, a.ID))
	n, err := fx.m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	after := testutil.ToFloat64(metrics.SafetySkips.WithLabelValues("policy_disabled"))
	assert.Equal(t, 3.0, after-before)
	assert.Equal(t, data.StatusSeeding, fx.status(t, a.ID))
	assert.Equal(t, data.StatusDownloading, fx.status(t, b.ID))
	skipped := 0
	for _, k := range fx.kinds() {
		if k == audit.KindExpirySkipped {
			skipped++
		}
	}
	assert.Equal(t, 3, skipped)
}

func TestPenaltyGuard(t *testing.T) {
	fx := newFixture(t, armed())
	ctx := context.Background()
	it := fx.add(t, data.Item{TorrentID: "9", Status: data.StatusSeeding, HitAndRun: true})

	for _, next := range []data.ItemStatus{data.StatusDeleted, data.StatusExpiredDeleted, data.StatusDynamicDeleted} {
		_, err := fx.m.transition(ctx, fx.m.log, it.ID, next, isActive)
		assert.ErrorIs(t, err, ErrPenaltyGuard, next)
	}
	_, err := fx.m.transition(ctx, fx.m.log, it.ID, data.StatusPaused, isActive)
	require.NoError(t, err)
	_, err = fx.m.transition(ctx, fx.m.log, it.ID, data.StatusSeeding, isActive)
	assert.ErrorIs(t, err, data.ErrStaleTransition, "terminal items never become active again")
}

func TestSweepNonFree(t *testing.T) {
	fx := newFixture(t, armed())
	ctx := context.Background()
	for _, c := range []byte{'a', 'b', 'c', 'd'} {
		fx.mem.Put(downloader.Snapshot{Hash: hash(c), State: downloader.StateDownloading})
	}
	plain := fx.add(t, data.Item{TorrentID: "1", InfoHash: hash('a'), Status: data.StatusDownloading})
	free := fx.add(t, data.Item{TorrentID: "2", InfoHash: hash('b'), Status: data.StatusDownloading, Discount: data.DiscountFree})
	hr := fx.add(t, data.Item{TorrentID: "3", InfoHash: hash('c'), Status: data.StatusDownloading, HitAndRun: true})
	seeding := fx.add(t, data.Item{TorrentID: "4", InfoHash: hash('d'), Status: data.StatusSeeding})

	n, err := fx.m.SweepNonFree(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, data.StatusDeleted, fx.status(t, plain.ID))
	assert.Equal(t, data.StatusDownloading, fx.status(t, free.ID))
	assert.Equal(t, data.StatusDownloading, fx.status(t, hr.ID))
	assert.Equal(t, data.StatusSeeding, fx.status(t, seeding.ID))
}

func TestSweepsDisarmed(t *testing.T) {
	fx := newFixture(t, policy.DefaultCapacity())
	ctx := context.Background()
	fx.mem.Put(downloader.Snapshot{Hash: hash('a'), State: downloader.StateDownloading, TrackerMessage: "unregistered torrent"})
	it := fx.add(t, data.Item{TorrentID: "1", InfoHash: hash('a'), Status: data.StatusDownloading})

	for _, sweep := range []func(context.Context) (int, error){fx.m.SweepNonFree, fx.m.Evict, fx.m.SweepUnregistered} {
		n, err := sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Equal(t, data.StatusDownloading, fx.status(t, it.ID))
}

func TestEvictOldestUntilTarget(t *testing.T) {
	fx := newFixture(t, armed())
	ctx := context.Background()
	fx.mem.SetSpace(2000*gib, 950*gib) // 1050 GiB used
	base := time.Now().Add(-time.Hour)
	var ids []int64
	add := func(c byte, hr bool, i int) {
		fx.mem.Put(downloader.Snapshot{Hash: hash(c), Size: 100 * gib, State: downloader.StateSeeding})
		it := fx.add(t, data.Item{TorrentID: string(c), InfoHash: hash(c), Size: 100 * gib,
			Status: data.StatusSeeding, HitAndRun: hr, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
		ids = append(ids, it.ID)
	}
	add('a', true, 0)
	add('b', false, 1)
	add('c', false, 2)
	add('d', false, 3)
	add('e', false, 4)

	n, err := fx.m.Evict(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, data.StatusSeeding, fx.status(t, ids[0]), "hit-and-run item is never evicted")
	for _, id := range ids[1:4] {
		assert.Equal(t, data.StatusDynamicDeleted, fx.status(t, id))
	}
	assert.Equal(t, data.StatusSeeding, fx.status(t, ids[4]))
}

// staleStore reports every status write for one item as stale.
type staleStore struct {
	Store
	id int64
}

func (s *staleStore) UpdateItem(ctx context.Context, id int64, mutate func(*data.Item) error) (*data.Item, error) {
	if id == s.id {
		return nil, data.ErrStaleTransition
	}
	return s.Store.UpdateItem(ctx, id, mutate)
}

func TestEvictCountsRemovedDataOnStaleWrite(t *testing.T) {
	fx := newFixture(t, armed())
	ctx := context.Background()
	fx.mem.SetSpace(2000*gib, 950*gib) // 1050 GiB used
	base := time.Now().Add(-time.Hour)
	var ids []int64
	for i, c := range []byte("bcde") {
		fx.mem.Put(downloader.Snapshot{Hash: hash(c), Size: 100 * gib, State: downloader.StateSeeding})
		it := fx.add(t, data.Item{TorrentID: string(c), InfoHash: hash(c), Size: 100 * gib,
			Status: data.StatusSeeding, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
		ids = append(ids, it.ID)
	}
	fx.m.store = &staleStore{Store: fx.store, id: ids[0]}

	n, err := fx.m.Evict(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = fx.mem.Status(ctx, hash('b'))
	assert.ErrorIs(t, err, downloader.ErrNotFound)
	assert.Equal(t, data.StatusSeeding, fx.status(t, ids[3]))
	_, err = fx.mem.Status(ctx, hash('e'))
	assert.NoError(t, err, "target was reached before the newest item")
}

func TestEvictBelowUpperBound(t *testing.T) {
	fx := newFixture(t, armed())
	fx.mem.SetSpace(2000*gib, 1500*gib)
	fx.mem.Put(downloader.Snapshot{Hash: hash('a'), Size: 100 * gib, State: downloader.StateSeeding})
	it := fx.add(t, data.Item{TorrentID: "1", InfoHash: hash('a'), Status: data.StatusSeeding})

	n, err := fx.m.Evict(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, data.StatusSeeding, fx.status(t, it.ID))
}

func TestSweepUnregistered(t *testing.T) {
	fx := newFixture(t, armed())
	ctx := context.Background()
	fx.mem.Put(downloader.Snapshot{Hash: hash('a'), State: downloader.StateSeeding, TrackerMessage: "Unregistered torrent"})
	fx.mem.Put(downloader.Snapshot{Hash: hash('b'), State: downloader.StateSeeding, TrackerMessage: "Working"})
	gone := fx.add(t, data.Item{TorrentID: "1", InfoHash: hash('a'), Status: data.StatusSeeding})
	fine := fx.add(t, data.Item{TorrentID: "2", InfoHash: hash('b'), Status: data.StatusSeeding})

	n, err := fx.m.SweepUnregistered(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, data.StatusUnregisteredDeleted, fx.status(t, gone.ID))
	assert.Equal(t, data.StatusSeeding, fx.status(t, fine.ID))
	_, err = fx.mem.Status(ctx, hash('a'))
	assert.ErrorIs(t, err, downloader.ErrNotFound)
}

func TestReconcile(t *testing.T) {
	fx := newFixture(t, armed())
	ctx := context.Background()
	fx.mem.Put(downloader.Snapshot{Hash: hash('a'), State: downloader.StateSeeding})
	fx.mem.Put(downloader.Snapshot{Hash: hash('b'), State: downloader.StateError})
	done := fx.add(t, data.Item{TorrentID: "1", InfoHash: hash('a'), Status: data.StatusDownloading})
	broken := fx.add(t, data.Item{TorrentID: "2", InfoHash: hash('b'), Status: data.StatusDownloading})
	lost := fx.add(t, data.Item{TorrentID: "3", InfoHash: hash('c'), Status: data.StatusSeeding})
	lostHR := fx.add(t, data.Item{TorrentID: "4", InfoHash: hash('d'), Status: data.StatusSeeding, HitAndRun: true})
	orphan := fx.add(t, data.Item{TorrentID: "5", InfoHash: hash('e'), Status: data.StatusSeeding, ClientID: 404})

	n, err := fx.m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, data.StatusSeeding, fx.status(t, done.ID))
	assert.Equal(t, data.StatusDownloading, fx.status(t, broken.ID))
	assert.Equal(t, data.StatusDeleted, fx.status(t, lost.ID))
	assert.Equal(t, data.StatusPaused, fx.status(t, lostHR.ID))
	assert.Equal(t, data.StatusSeeding, fx.status(t, orphan.ID))
	assert.Contains(t, fx.kinds(), audit.KindMissingPenalty)

	n, err = fx.m.ReconcileClient(ctx, fx.client.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRestoreDeadlines(t *testing.T) {
	fx := newFixture(t, armed())
	ctx := context.Background()
	end := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	a := fx.add(t, data.Item{TorrentID: "1", Status: data.StatusDownloading, DiscountEnd: &end})
	_ = fx.add(t, data.Item{TorrentID: "2", Status: data.StatusSeeding})
	_ = fx.add(t, data.Item{TorrentID: "3", Status: data.StatusDeleted, DiscountEnd: &end})

	n, err := fx.m.RestoreDeadlines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	at, ok := fx.timers.at[ExpiryJobID(a.ID)]
	require.True(t, ok)
	assert.True(t, at.Equal(end.Add(-DefaultExpiryLead)))
}
