package chat

import (
	"context"
	"sync"
	"time"

	"PChat/logger"
	msgmodel "PChat/module/message/model"
	"PChat/tools/errs"
	"PChat/tools/safe"
)

// StatusStore persists delivery-state transitions. The message service
// implements it; tests stub it out.
type StatusStore interface {
	UpdateStatus(ctx context.Context, messageID, status string) error
}

// ===== configuration =====

type TrackerConf struct {
	TTL        time.Duration    // record lifetime
	MaxRecords int              // cap on tracked messages
	SweepEvery time.Duration    // eviction period, <0 disables the sweeper
	Clock      func() time.Time // injectable clock for tests, nil => time.Now
}

func (c *TrackerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.MaxRecords <= 0 {
		c.MaxRecords = 10000
	}
	if c.SweepEvery == 0 {
		c.SweepEvery = 10 * time.Minute
	}
}

// record is one message's live delivery state. Recipients collects every
// user the message demonstrably reached; delivery and read marks are
// subsets of it.
type record struct {
	MessageID string
	ChatID    string
	SenderID  string
	Status    string
	Payload   map[string]any // receive_message body, kept for re-delivery

	Recipients map[string]struct{}
	Delivered  map[string]time.Time
	ReadBy     map[string]time.Time

	CreatedAt time.Time // message timestamp, compared against watermarks
	TrackedAt time.Time // insertion time, drives TTL eviction
}

func (rec *record) readByAll() bool {
	if len(rec.Recipients) == 0 {
		return false
	}
	for userID := range rec.Recipients {
		if _, ok := rec.ReadBy[userID]; !ok {
			return false
		}
	}
	return true
}

// ===== tracker =====

// Tracker drives the per-message delivery state machine: sent ->
// delivered -> read, forward-only. It also keeps each user's last-read
// watermark for the auto-read heuristic. Records are bounded three ways:
// TTL, a hard cap with oldest-first eviction, and eager eviction once
// every known recipient has read the message.
type Tracker struct {
	mu    sync.Mutex
	byID  map[string]*record
	order []string             // insertion order, drives cap eviction
	marks map[string]time.Time // user -> last-read watermark

	reg   *Registry
	store StatusStore
	conf  TrackerConf

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewTracker(reg *Registry, store StatusStore, conf TrackerConf) *Tracker {
	safe.MustNotNil(reg, "registry")
	safe.MustNotNil(store, "status store")
	conf.norm()
	t := &Tracker{
		byID:   make(map[string]*record),
		marks:  make(map[string]time.Time),
		reg:    reg,
		store:  store,
		conf:   conf,
		stopCh: make(chan struct{}),
	}
	if conf.SweepEvery > 0 {
		safe.Go(t.sweeper)
	}
	return t
}

// Track starts following a freshly created message. Evicts the oldest
// record first when the cap is reached.
func (t *Tracker) Track(m *msgmodel.Message, payload map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for len(t.byID) >= t.conf.MaxRecords {
		if !t.evictOldestLocked() {
			break
		}
	}

	id := m.ID.Hex()
	t.byID[id] = &record{
		MessageID:  id,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		Status:     m.Status,
		Payload:    payload,
		Recipients: make(map[string]struct{}),
		Delivered:  make(map[string]time.Time),
		ReadBy:     make(map[string]time.Time),
		CreatedAt:  m.Timestamp,
		TrackedAt:  t.conf.Clock(),
	}
	t.order = append(t.order, id)
}

// evictOldestLocked drops the oldest still-tracked record. Returns false
// when there is nothing left to evict.
func (t *Tracker) evictOldestLocked() bool {
	for len(t.order) > 0 {
		id := t.order[0]
		t.order = t.order[1:]
		if _, ok := t.byID[id]; ok {
			delete(t.byID, id)
			logger.Warnf("[tracker] record cap reached, evicted message %s", id)
			return true
		}
	}
	return false
}

// RecordDelivery marks the message as live-delivered to receiverID,
// advances sent -> delivered on the first delivery and tells the sender.
func (t *Tracker) RecordDelivery(ctx context.Context, messageID, receiverID string) {
	now := t.conf.Clock()

	t.mu.Lock()
	rec, ok := t.byID[messageID]
	if !ok {
		t.mu.Unlock()
		return
	}
	rec.Recipients[receiverID] = struct{}{}
	rec.Delivered[receiverID] = now

	persist := false
	if msgmodel.StatusRank(rec.Status) < msgmodel.StatusRank(msgmodel.StatusDelivered) {
		rec.Status = msgmodel.StatusDelivered
		persist = true
	}
	senderID := rec.SenderID
	status := rec.Status
	t.mu.Unlock()

	if data, err := Encode(EvtMessageStatusUpdate, BuildStatusUpdate(messageID, receiverID, status, now)); err == nil {
		t.reg.SendTo(senderID, data)
	}
	if persist {
		if err := t.store.UpdateStatus(ctx, messageID, msgmodel.StatusDelivered); err != nil {
			logger.Errorf("[tracker] persist delivered for %s failed: %v", messageID, err)
		}
	}
}

// RecordRead applies a read receipt and reports which chat the message
// belongs to. The sender can never read-receipt their own message;
// unknown ids are reported so the caller can fall back to the persisted
// store. Re-reading is a silent no-op. Once every known recipient has
// read the message its record is dropped.
func (t *Tracker) RecordRead(ctx context.Context, messageID, readerID string, manual bool) (string, error) {
	now := t.conf.Clock()

	t.mu.Lock()
	rec, ok := t.byID[messageID]
	if !ok {
		t.mu.Unlock()
		return "", errs.ErrRecordNotFound.WithDetail("Message not found").Wrap()
	}
	if rec.SenderID == readerID {
		t.mu.Unlock()
		return "", errs.ErrSelfRead.WithDetail("Cannot mark own message as read").Wrap()
	}
	if _, already := rec.ReadBy[readerID]; already {
		chatID := rec.ChatID
		t.mu.Unlock()
		return chatID, nil
	}
	rec.Recipients[readerID] = struct{}{}
	rec.ReadBy[readerID] = now

	persist := false
	if msgmodel.StatusRank(rec.Status) < msgmodel.StatusRank(msgmodel.StatusRead) {
		rec.Status = msgmodel.StatusRead
		persist = true
	}
	senderID := rec.SenderID
	chatID := rec.ChatID
	if rec.readByAll() {
		delete(t.byID, messageID)
	}
	t.mu.Unlock()

	if data, err := Encode(EvtMessageRead, BuildMessageRead(messageID, chatID, readerID, now, manual)); err == nil {
		t.reg.SendTo(senderID, data)
	}
	if persist {
		if err := t.store.UpdateStatus(ctx, messageID, msgmodel.StatusRead); err != nil {
			logger.Errorf("[tracker] persist read for %s failed: %v", messageID, err)
		}
	}
	return chatID, nil
}

// AutoCheckRead promotes one message to read when the recipient's
// watermark already covers its timestamp. Used right after live
// delivery: the recipient may have declared "seen everything up to T"
// moments before the message arrived.
func (t *Tracker) AutoCheckRead(ctx context.Context, messageID, readerID string) {
	if t.eligibleForAutoRead(messageID, readerID) {
		_, _ = t.RecordRead(ctx, messageID, readerID, false)
	}
}

// BulkAutoCheck applies the auto-read heuristic to every tracked message
// the reader is a known recipient of. Order is irrelevant: transitions
// are idempotent.
func (t *Tracker) BulkAutoCheck(ctx context.Context, readerID string) {
	t.mu.Lock()
	ids := make([]string, 0)
	for id := range t.byID {
		if t.eligibleLocked(id, readerID) {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	for _, id := range ids {
		_, _ = t.RecordRead(ctx, id, readerID, false)
	}
}

func (t *Tracker) eligibleForAutoRead(messageID, readerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.eligibleLocked(messageID, readerID)
}

// eligibleLocked: reader is a non-sender recipient who has not read the
// message and whose watermark is at or past the message timestamp.
func (t *Tracker) eligibleLocked(messageID, readerID string) bool {
	rec, ok := t.byID[messageID]
	if !ok || rec.SenderID == readerID {
		return false
	}
	if _, isRecipient := rec.Recipients[readerID]; !isRecipient {
		return false
	}
	if _, already := rec.ReadBy[readerID]; already {
		return false
	}
	mark, ok := t.marks[readerID]
	return ok && !mark.Before(rec.CreatedAt)
}

// UpdateWatermark raises the user's last-read watermark (monotonic, an
// older timestamp never lowers it) and retroactively auto-reads every
// tracked message the new mark covers.
func (t *Tracker) UpdateWatermark(ctx context.Context, userID string, mark time.Time) {
	t.mu.Lock()
	if cur, ok := t.marks[userID]; !ok || mark.After(cur) {
		t.marks[userID] = mark
	}
	t.mu.Unlock()

	t.BulkAutoCheck(ctx, userID)
}

// RemoveWatermark forgets the user's watermark on disconnect.
func (t *Tracker) RemoveWatermark(userID string) {
	t.mu.Lock()
	delete(t.marks, userID)
	t.mu.Unlock()
}

// Status reports the tracked status of a message.
func (t *Tracker) Status(messageID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.byID[messageID]
	if !ok {
		return "", false
	}
	return rec.Status, true
}

func (t *Tracker) TrackedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// ===== sweeper =====

func (t *Tracker) sweeper() {
	tick := time.NewTicker(t.conf.SweepEvery)
	defer tick.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case now := <-tick.C:
			t.sweepOnce(now)
		}
	}
}

// sweepOnce drops records past their TTL and compacts the order slice.
func (t *Tracker) sweepOnce(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, rec := range t.byID {
		if now.Sub(rec.TrackedAt) > t.conf.TTL {
			delete(t.byID, id)
			evicted++
		}
	}
	if evicted > 0 || len(t.order) > len(t.byID) {
		keep := t.order[:0]
		for _, id := range t.order {
			if _, ok := t.byID[id]; ok {
				keep = append(keep, id)
			}
		}
		t.order = keep
	}
	if evicted > 0 {
		logger.Infof("[tracker] swept %d expired delivery records", evicted)
	}
}

func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}
