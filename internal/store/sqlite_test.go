package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "autopost/pkg/logx"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	st, err := openSQLite(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("openSQLite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func addItem(t *testing.T, st Store, platform Platform, confidence float64) int64 {
	t.Helper()
	id, err := st.AddContent(context.Background(), ContentItem{
		Platform:   platform,
		Title:      "item-" + string(platform),
		Confidence: confidence,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("AddContent: %v", err)
	}
	return id
}

func TestListEligibleOrdering(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	low := addItem(t, st, PlatformReddit, 0.2)
	high := addItem(t, st, PlatformReddit, 0.9)
	prio, err := st.AddContent(ctx, ContentItem{
		Platform: PlatformGiphy, Title: "urgent", Priority: 5, Confidence: 0.1, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("AddContent: %v", err)
	}

	items, err := st.ListEligible(ctx)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	if items[0].ID != prio {
		t.Fatalf("first item = %d, want priority item %d", items[0].ID, prio)
	}
	if items[1].ID != high || items[2].ID != low {
		t.Fatalf("confidence ordering wrong: got %d,%d want %d,%d", items[1].ID, items[2].ID, high, low)
	}

	// Platform filter narrows the result.
	reddit, err := st.ListEligible(ctx, PlatformReddit)
	if err != nil {
		t.Fatalf("ListEligible(reddit): %v", err)
	}
	if len(reddit) != 2 || reddit[0].ID != high {
		t.Fatalf("filtered = %+v, want reddit items %d,%d", reddit, high, low)
	}
}

func TestClaimExactlyOnce(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	cid := addItem(t, st, PlatformReddit, 0.5)
	slotID, err := st.CreateSlot(ctx, Slot{
		ContentID:   &cid,
		Platform:    PlatformReddit,
		ScheduledAt: time.Now(),
		SlotIndex:   0,
	})
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}

	const attempts = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.TryClaim(ctx, slotID)
			if err != nil {
				t.Errorf("TryClaim: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("claim wins = %d, want exactly 1", wins)
	}

	// The slot must no longer be due.
	due, err := st.FindDueSlots(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("FindDueSlots: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("claimed slot still reported due: %+v", due)
	}
}

func TestRecordPostedLifecycle(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	cid := addItem(t, st, PlatformYouTube, 0.7)
	slotID, err := st.CreateSlot(ctx, Slot{ContentID: &cid, Platform: PlatformYouTube, ScheduledAt: now})
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}

	ok, err := st.TryClaim(ctx, slotID)
	if err != nil || !ok {
		t.Fatalf("TryClaim = (%v, %v), want (true, nil)", ok, err)
	}
	if err := st.RecordPosted(ctx, slotID, cid, now); err != nil {
		t.Fatalf("RecordPosted: %v", err)
	}

	// Content no longer eligible.
	items, err := st.ListEligible(ctx)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("posted content still eligible: %+v", items)
	}

	// Platform shows up in the lookback window.
	recent, err := st.RecentPlatforms(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("RecentPlatforms: %v", err)
	}
	if !recent[PlatformYouTube] {
		t.Fatalf("recent platforms = %v, want youtube", recent)
	}

	// Finishing twice must fail: the slot is no longer in posting state.
	if err := st.RecordPosted(ctx, slotID, cid, now); err == nil {
		t.Fatal("second RecordPosted succeeded, want error")
	}
}

func TestRecordPostedRefusesEmptySlot(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	slotID, err := st.CreateSlot(ctx, Slot{Platform: PlatformReddit, ScheduledAt: now})
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	if ok, err := st.TryClaim(ctx, slotID); err != nil || !ok {
		t.Fatalf("TryClaim = (%v, %v)", ok, err)
	}
	if err := st.RecordPosted(ctx, slotID, 123, now); err == nil {
		t.Fatal("RecordPosted on content-less slot succeeded, want error")
	}
}

func TestRevertToPendingMakesSlotRetryable(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	cid := addItem(t, st, PlatformGiphy, 0.4)
	slotID, err := st.CreateSlot(ctx, Slot{ContentID: &cid, Platform: PlatformGiphy, ScheduledAt: now})
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	if ok, _ := st.TryClaim(ctx, slotID); !ok {
		t.Fatal("claim lost on fresh slot")
	}
	if err := st.RevertToPending(ctx, slotID, "network timeout"); err != nil {
		t.Fatalf("RevertToPending: %v", err)
	}

	due, err := st.FindDueSlots(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("FindDueSlots: %v", err)
	}
	if len(due) != 1 || due[0].ID != slotID {
		t.Fatalf("reverted slot not due again: %+v", due)
	}
	if due[0].FailReason != "network timeout" {
		t.Fatalf("fail reason = %q", due[0].FailReason)
	}

	// And it can be claimed again.
	if ok, _ := st.TryClaim(ctx, slotID); !ok {
		t.Fatal("reverted slot could not be reclaimed")
	}
}

func TestDueSlotsOrderedAndWindowed(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Minute)

	cid := addItem(t, st, PlatformReddit, 0.5)
	later, _ := st.CreateSlot(ctx, Slot{ContentID: &cid, Platform: PlatformReddit, ScheduledAt: base.Add(3 * time.Minute), SlotIndex: 1})
	earlier, _ := st.CreateSlot(ctx, Slot{ContentID: &cid, Platform: PlatformReddit, ScheduledAt: base, SlotIndex: 0})
	_, _ = st.CreateSlot(ctx, Slot{ContentID: &cid, Platform: PlatformReddit, ScheduledAt: base.Add(2 * time.Hour), SlotIndex: 2})

	due, err := st.FindDueSlots(ctx, base.Add(-5*time.Minute), base.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("FindDueSlots: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("len(due) = %d, want 2", len(due))
	}
	if due[0].ID != earlier || due[1].ID != later {
		t.Fatalf("due order = %d,%d want %d,%d", due[0].ID, due[1].ID, earlier, later)
	}

	n, err := st.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if n != 3 {
		t.Fatalf("CountPending = %d, want 3", n)
	}

	next, err := st.NextPendingSlot(ctx, base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("NextPendingSlot: %v", err)
	}
	if next == nil || next.ID != earlier {
		t.Fatalf("NextPendingSlot = %+v, want id %d", next, earlier)
	}
}

func TestSlotIndexesOn(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	cid := addItem(t, st, PlatformReddit, 0.5)
	_, _ = st.CreateSlot(ctx, Slot{ContentID: &cid, Platform: PlatformReddit, ScheduledAt: day.Add(8 * time.Hour), SlotIndex: 0})
	_, _ = st.CreateSlot(ctx, Slot{ContentID: &cid, Platform: PlatformReddit, ScheduledAt: day.Add(13 * time.Hour), SlotIndex: 2})

	got, err := st.SlotIndexesOn(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("SlotIndexesOn: %v", err)
	}
	if len(got) != 2 || !got[0] || !got[2] {
		t.Fatalf("indexes = %v, want {0,2}", got)
	}
}
