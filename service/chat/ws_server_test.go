package chat

import (
	"context"
	"testing"
	"time"

	msgmodel "PChat/module/message/model"
)

func TestCleanupOfReplacedConnKeepsSuccessorWatermark(t *testing.T) {
	clk := newFakeClock()
	reg := newTestRegistry(clk)
	tr, _ := newTestTracker(reg, clk, TrackerConf{})
	s := NewServer(ServerDeps{Registry: reg, Tracker: tr}, ServerConf{})

	old, _ := newTestConn("bob")
	reg.Register(old)
	replacement, _ := newTestConn("bob")
	reg.Register(replacement)

	ctx := context.Background()
	tr.UpdateWatermark(ctx, "bob", clk.Now())

	// the replaced socket's deferred teardown fires after the new
	// connection is live; it must not touch the successor's state
	s.cleanup(old)

	if !reg.IsOnline("bob") {
		t.Fatal("successor connection must survive the stale teardown")
	}

	m := newTestMessage("c1", "alice", clk.Now().Add(-time.Minute))
	id := m.ID.Hex()
	tr.Track(m, nil)
	tr.RecordDelivery(ctx, id, "bob")
	tr.AutoCheckRead(ctx, id, "bob")

	if status, ok := tr.Status(id); ok && status != msgmodel.StatusRead {
		t.Fatalf("status = %s, the surviving watermark should have auto-read the message", status)
	}
}
