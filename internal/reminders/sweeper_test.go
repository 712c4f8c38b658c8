package reminders

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/hive/internal/store"
	"github.com/nextlevelbuilder/hive/internal/store/sqlite"
)

type sentReminder struct {
	channel   string
	recipient string
	text      string
}

type fakeNotifier struct {
	mu    sync.Mutex
	sends []sentReminder
}

func (f *fakeNotifier) Send(ctx context.Context, channel, recipient, text string) error {
	f.mu.Lock()
	f.sends = append(f.sends, sentReminder{channel, recipient, text})
	f.mu.Unlock()
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type sweeperFixture struct {
	stores   *store.Stores
	notifier *fakeNotifier
	sweeper  *Sweeper
}

func newSweeperFixture(t *testing.T) *sweeperFixture {
	t.Helper()
	st, err := sqlite.NewStores(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	n := &fakeNotifier{}
	return &sweeperFixture{stores: st, notifier: n, sweeper: NewSweeper(st, n)}
}

func (f *sweeperFixture) createReminder(t *testing.T, userID, text string, dueAt *time.Time) *store.Reminder {
	t.Helper()
	r := &store.Reminder{ID: store.NewID(), UserID: userID, Text: text, DueAt: dueAt}
	if err := f.stores.Reminders.Create(context.Background(), r); err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	return r
}

func (f *sweeperFixture) linkIdentity(t *testing.T, userID, channel, handle string) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.stores.Users.Ensure(ctx, userID); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	err := f.stores.Identities.Link(ctx, &store.ChannelIdentity{
		ID: store.NewID(), OwnerID: userID, Channel: channel, ChannelUserID: handle,
	})
	if err != nil {
		t.Fatalf("link identity: %v", err)
	}
}

func past(t *testing.T) *time.Time {
	t.Helper()
	p := time.Now().Add(-time.Minute).UTC()
	return &p
}

func TestSweepDeliversDueReminder(t *testing.T) {
	f := newSweeperFixture(t)
	f.linkIdentity(t, "alice", "telegram", "4242")
	rem := f.createReminder(t, "alice", "water the plants", past(t))

	f.sweeper.Sweep(context.Background())

	if f.notifier.count() != 1 {
		t.Fatalf("sends = %d", f.notifier.count())
	}
	got := f.notifier.sends[0]
	if got.channel != "telegram" || got.recipient != "4242" || got.text != "Reminder: water the plants" {
		t.Fatalf("sent = %+v", got)
	}

	reloaded, err := f.stores.Reminders.Get(context.Background(), "alice", rem.ID)
	if err != nil {
		t.Fatalf("get reminder: %v", err)
	}
	if reloaded.NotifiedAt == nil {
		t.Fatal("NotifiedAt not set")
	}
}

func TestSweepNotifiesExactlyOnce(t *testing.T) {
	f := newSweeperFixture(t)
	f.linkIdentity(t, "alice", "telegram", "4242")
	f.createReminder(t, "alice", "standup", past(t))

	f.sweeper.Sweep(context.Background())
	f.sweeper.Sweep(context.Background())

	if f.notifier.count() != 1 {
		t.Fatalf("sends = %d, want 1", f.notifier.count())
	}
}

func TestSweepIgnoresFutureAndCompleted(t *testing.T) {
	f := newSweeperFixture(t)
	f.linkIdentity(t, "alice", "telegram", "4242")
	future := time.Now().Add(time.Hour).UTC()
	f.createReminder(t, "alice", "later", &future)
	done := f.createReminder(t, "alice", "already done", past(t))
	if err := f.stores.Reminders.Complete(context.Background(), "alice", done.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	f.createReminder(t, "alice", "no due date", nil)

	f.sweeper.Sweep(context.Background())

	if f.notifier.count() != 0 {
		t.Fatalf("sends = %d, want 0", f.notifier.count())
	}
}

func TestSweepFallsBackToChannelPrefix(t *testing.T) {
	f := newSweeperFixture(t)
	f.createReminder(t, "tg:99", "call mom", past(t))

	f.sweeper.Sweep(context.Background())

	if f.notifier.count() != 1 {
		t.Fatalf("sends = %d", f.notifier.count())
	}
	got := f.notifier.sends[0]
	if got.channel != "telegram" || got.recipient != "99" {
		t.Fatalf("sent = %+v", got)
	}
}

func TestSweepWithoutRouteStillClaims(t *testing.T) {
	f := newSweeperFixture(t)
	f.createReminder(t, "dana", "unreachable", past(t))

	f.sweeper.Sweep(context.Background())
	if f.notifier.count() != 0 {
		t.Fatalf("sends = %d, want 0", f.notifier.count())
	}

	// Claimed despite the missing route: the next pass finds nothing due.
	due, err := f.stores.Reminders.Due(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("due = %d, want 0", len(due))
	}
}

func TestSweeperLoopDelivers(t *testing.T) {
	f := newSweeperFixture(t)
	f.linkIdentity(t, "alice", "telegram", "4242")
	f.createReminder(t, "alice", "tick", past(t))
	f.sweeper.interval = 20 * time.Millisecond

	f.sweeper.Start(context.Background())
	defer f.sweeper.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && f.notifier.count() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("sends = %d, want 1", f.notifier.count())
	}
}
