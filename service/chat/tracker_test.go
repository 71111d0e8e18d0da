package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	msgmodel "PChat/module/message/model"
	"PChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeStatusStore struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeStatusStore) UpdateStatus(_ context.Context, messageID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messageID+":"+status)
	return nil
}

func (f *fakeStatusStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestMessage(chatID, senderID string, ts time.Time) *msgmodel.Message {
	return &msgmodel.Message{
		ID:        primitive.NewObjectID(),
		ChatID:    chatID,
		SenderID:  senderID,
		Status:    msgmodel.StatusSent,
		Timestamp: ts,
	}
}

func newTestTracker(reg *Registry, clk *fakeClock, conf TrackerConf) (*Tracker, *fakeStatusStore) {
	store := &fakeStatusStore{}
	if conf.SweepEvery == 0 {
		conf.SweepEvery = -1
	}
	if clk != nil {
		conf.Clock = clk.Now
	}
	return NewTracker(reg, store, conf), store
}

func TestTrackerDeliveryAdvancesStatus(t *testing.T) {
	clk := newFakeClock()
	reg := newTestRegistry(clk)
	tr, store := newTestTracker(reg, clk, TrackerConf{})

	sender, senderTr := newTestConn("alice")
	reg.Register(sender)

	m := newTestMessage("c1", "alice", clk.Now())
	id := m.ID.Hex()
	tr.Track(m, map[string]any{"message_id": id})

	ctx := context.Background()
	tr.RecordDelivery(ctx, id, "bob")

	if status, _ := tr.Status(id); status != msgmodel.StatusDelivered {
		t.Fatalf("status = %s, want delivered", status)
	}
	evt := senderTr.lastEvent(t)
	if evt.Name != EvtMessageStatusUpdate {
		t.Fatalf("sender got %s, want %s", evt.Name, EvtMessageStatusUpdate)
	}
	if evt.Data["receiver_id"] != "bob" || evt.Data["status"] != msgmodel.StatusDelivered {
		t.Fatalf("status update data = %v", evt.Data)
	}
	if store.callCount() != 1 {
		t.Fatalf("persisted %d transitions, want 1", store.callCount())
	}

	// a second recipient does not re-persist the same transition
	tr.RecordDelivery(ctx, id, "carol")
	if store.callCount() != 1 {
		t.Fatalf("persisted %d transitions after second delivery, want 1", store.callCount())
	}
	if senderTr.frameCount() != 2 {
		t.Fatalf("sender frames = %d, want one per delivery", senderTr.frameCount())
	}
}

func TestTrackerReadIsForwardOnly(t *testing.T) {
	clk := newFakeClock()
	reg := newTestRegistry(clk)
	tr, store := newTestTracker(reg, clk, TrackerConf{})

	sender, senderTr := newTestConn("alice")
	reg.Register(sender)

	m := newTestMessage("c1", "alice", clk.Now())
	id := m.ID.Hex()
	tr.Track(m, nil)

	ctx := context.Background()
	tr.RecordDelivery(ctx, id, "bob")
	tr.RecordDelivery(ctx, id, "carol")

	chatID, err := tr.RecordRead(ctx, id, "bob", true)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if chatID != "c1" {
		t.Fatalf("chatID = %s, want c1", chatID)
	}
	if status, _ := tr.Status(id); status != msgmodel.StatusRead {
		t.Fatalf("status = %s, want read", status)
	}

	evt := senderTr.lastEvent(t)
	if evt.Name != EvtMessageRead {
		t.Fatalf("sender got %s, want %s", evt.Name, EvtMessageRead)
	}
	if evt.Data["reader_id"] != "bob" || evt.Data["manual_read"] != true {
		t.Fatalf("read notification data = %v", evt.Data)
	}

	// a late delivery must never move read back to delivered
	tr.RecordDelivery(ctx, id, "dave")
	if status, _ := tr.Status(id); status != msgmodel.StatusRead {
		t.Fatalf("status regressed to %s", status)
	}
	if store.callCount() != 2 { // one delivered, one read
		t.Fatalf("persisted %d transitions, want 2", store.callCount())
	}
}

func TestTrackerSelfReadRejected(t *testing.T) {
	clk := newFakeClock()
	reg := newTestRegistry(clk)
	tr, store := newTestTracker(reg, clk, TrackerConf{})

	m := newTestMessage("c1", "alice", clk.Now())
	id := m.ID.Hex()
	tr.Track(m, nil)

	_, err := tr.RecordRead(context.Background(), id, "alice", true)
	if err == nil || !errs.ErrSelfRead.Is(err) {
		t.Fatalf("err = %v, want self-read rejection", err)
	}
	if status, _ := tr.Status(id); status != msgmodel.StatusSent {
		t.Fatalf("rejected read mutated status to %s", status)
	}
	if store.callCount() != 0 {
		t.Fatal("rejected read must not persist anything")
	}
}

func TestTrackerUnknownMessage(t *testing.T) {
	reg := newTestRegistry(nil)
	tr, _ := newTestTracker(reg, nil, TrackerConf{})

	_, err := tr.RecordRead(context.Background(), "missing", "bob", true)
	if err == nil || !errs.ErrRecordNotFound.Is(err) {
		t.Fatalf("err = %v, want record not found", err)
	}
}

func TestTrackerReadByAllEvicts(t *testing.T) {
	clk := newFakeClock()
	reg := newTestRegistry(clk)
	tr, _ := newTestTracker(reg, clk, TrackerConf{})

	m := newTestMessage("c1", "alice", clk.Now())
	id := m.ID.Hex()
	tr.Track(m, nil)

	ctx := context.Background()
	tr.RecordDelivery(ctx, id, "bob")
	tr.RecordDelivery(ctx, id, "carol")

	if _, err := tr.RecordRead(ctx, id, "bob", true); err != nil {
		t.Fatalf("read bob: %v", err)
	}
	if tr.TrackedCount() != 1 {
		t.Fatal("record must stay while a recipient has not read")
	}

	if _, err := tr.RecordRead(ctx, id, "carol", true); err != nil {
		t.Fatalf("read carol: %v", err)
	}
	if tr.TrackedCount() != 0 {
		t.Fatal("record must be dropped once every recipient has read")
	}
}

func TestTrackerWatermarkAutoRead(t *testing.T) {
	clk := newFakeClock()
	reg := newTestRegistry(clk)
	tr, _ := newTestTracker(reg, clk, TrackerConf{})

	sender, senderTr := newTestConn("alice")
	reg.Register(sender)

	m := newTestMessage("c1", "alice", clk.Now())
	id := m.ID.Hex()
	tr.Track(m, nil)

	ctx := context.Background()

	// watermark older than the message: no auto-read
	tr.UpdateWatermark(ctx, "bob", clk.Now().Add(-time.Minute))
	tr.RecordDelivery(ctx, id, "bob")
	tr.AutoCheckRead(ctx, id, "bob")
	if status, _ := tr.Status(id); status != msgmodel.StatusDelivered {
		t.Fatalf("status = %s, want delivered", status)
	}

	// watermark at the message timestamp: the bulk pass promotes it
	tr.UpdateWatermark(ctx, "bob", clk.Now())
	if status, ok := tr.Status(id); ok && status != msgmodel.StatusRead {
		t.Fatalf("status = %s, want read", status)
	}
	evt := senderTr.lastEvent(t)
	if evt.Name != EvtMessageRead || evt.Data["auto_read"] != true {
		t.Fatalf("sender notification = %s %v, want auto read", evt.Name, evt.Data)
	}
}

func TestTrackerWatermarkIsMonotonic(t *testing.T) {
	clk := newFakeClock()
	reg := newTestRegistry(clk)
	tr, _ := newTestTracker(reg, clk, TrackerConf{})

	ctx := context.Background()
	tr.UpdateWatermark(ctx, "bob", clk.Now().Add(10*time.Minute))
	tr.UpdateWatermark(ctx, "bob", clk.Now().Add(-10*time.Minute)) // must not lower it

	m := newTestMessage("c1", "alice", clk.Now())
	id := m.ID.Hex()
	tr.Track(m, nil)
	tr.RecordDelivery(ctx, id, "bob")
	tr.AutoCheckRead(ctx, id, "bob")

	if status, ok := tr.Status(id); ok && status != msgmodel.StatusRead {
		t.Fatalf("status = %s, the higher watermark should have promoted the read", status)
	}
}

func TestTrackerAutoReadNeedsRecipient(t *testing.T) {
	clk := newFakeClock()
	reg := newTestRegistry(clk)
	tr, _ := newTestTracker(reg, clk, TrackerConf{})

	m := newTestMessage("c1", "alice", clk.Now())
	id := m.ID.Hex()
	tr.Track(m, nil)

	ctx := context.Background()
	tr.UpdateWatermark(ctx, "mallory", clk.Now().Add(time.Minute))
	tr.AutoCheckRead(ctx, id, "mallory")
	if status, _ := tr.Status(id); status != msgmodel.StatusSent {
		t.Fatalf("non-recipient auto-read moved status to %s", status)
	}
}

func TestTrackerRemoveWatermark(t *testing.T) {
	clk := newFakeClock()
	reg := newTestRegistry(clk)
	tr, _ := newTestTracker(reg, clk, TrackerConf{})

	ctx := context.Background()
	tr.UpdateWatermark(ctx, "bob", clk.Now().Add(time.Hour))
	tr.RemoveWatermark("bob")

	m := newTestMessage("c1", "alice", clk.Now())
	id := m.ID.Hex()
	tr.Track(m, nil)
	tr.RecordDelivery(ctx, id, "bob")
	tr.AutoCheckRead(ctx, id, "bob")

	if status, _ := tr.Status(id); status != msgmodel.StatusDelivered {
		t.Fatalf("status = %s, removed watermark must not auto-read", status)
	}
}

func TestTrackerCapEvictsOldest(t *testing.T) {
	clk := newFakeClock()
	reg := newTestRegistry(clk)
	tr, _ := newTestTracker(reg, clk, TrackerConf{MaxRecords: 2})

	first := newTestMessage("c1", "alice", clk.Now())
	second := newTestMessage("c1", "alice", clk.Now())
	third := newTestMessage("c1", "alice", clk.Now())
	tr.Track(first, nil)
	tr.Track(second, nil)
	tr.Track(third, nil)

	if tr.TrackedCount() != 2 {
		t.Fatalf("TrackedCount = %d, want 2", tr.TrackedCount())
	}
	if _, ok := tr.Status(first.ID.Hex()); ok {
		t.Fatal("oldest record must be evicted at the cap")
	}
	if _, ok := tr.Status(third.ID.Hex()); !ok {
		t.Fatal("newest record must survive")
	}
}

func TestTrackerTTLSweep(t *testing.T) {
	clk := newFakeClock()
	reg := newTestRegistry(clk)
	tr, _ := newTestTracker(reg, clk, TrackerConf{TTL: time.Hour})

	m := newTestMessage("c1", "alice", clk.Now())
	tr.Track(m, nil)

	clk.advance(2 * time.Hour)
	tr.sweepOnce(clk.Now())

	if tr.TrackedCount() != 0 {
		t.Fatal("expired record must be swept")
	}
	if _, err := tr.RecordRead(context.Background(), m.ID.Hex(), "bob", true); err == nil || !errs.ErrRecordNotFound.Is(err) {
		t.Fatalf("err = %v, want record not found after sweep", err)
	}
}
