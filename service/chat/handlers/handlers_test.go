package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	msgmodel "PChat/module/message/model"
	usermodel "PChat/module/user/model"
	"PChat/service/chat"
	"PChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error { return nil }

func (f *fakeTransport) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type wireEvent struct {
	Name string         `json:"event_name"`
	Data map[string]any `json:"event_data"`
}

func (f *fakeTransport) events(t *testing.T) []wireEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wireEvent, 0, len(f.frames))
	for _, raw := range f.frames {
		var e wireEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			t.Fatalf("bad frame %q: %v", raw, err)
		}
		out = append(out, e)
	}
	return out
}

type fakeStatusStore struct {
	mu      sync.Mutex
	updates []string
}

func (f *fakeStatusStore) UpdateStatus(_ context.Context, messageID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, messageID+":"+status)
	return nil
}

type fakeUserStore struct {
	mu   sync.Mutex
	byID map[string]*usermodel.User
}

func (f *fakeUserStore) add(userID, username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[userID] = &usermodel.User{Username: username}
}

func (f *fakeUserStore) GetByID(_ context.Context, userID string) (*usermodel.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WithDetail("user not found").Wrap()
	}
	return u, nil
}

func (f *fakeUserStore) SetOnline(context.Context, string, bool) error { return nil }

// harness wires a server from the in-memory pieces only; handlers under
// test here never reach the persistence-backed services.
type harness struct {
	srv   *chat.Server
	reg   *chat.Registry
	tr    *chat.Tracker
	store *fakeStatusStore
	users *fakeUserStore
}

func newHarness() *harness {
	reg := chat.NewRegistry(chat.RegistryConf{SweepEvery: -1})
	store := &fakeStatusStore{}
	users := &fakeUserStore{byID: map[string]*usermodel.User{}}
	tr := chat.NewTracker(reg, store, chat.TrackerConf{SweepEvery: -1})
	srv := chat.NewServer(chat.ServerDeps{Registry: reg, Tracker: tr, Users: users}, chat.ServerConf{})
	return &harness{srv: srv, reg: reg, tr: tr, store: store, users: users}
}

func (h *harness) connect(userID string) (*chat.Conn, *fakeTransport) {
	ft := &fakeTransport{}
	c := chat.NewConn(userID, "ws_"+userID+"_1", ft)
	h.reg.Register(c)
	return c, ft
}

func (h *harness) cx() *chat.Context { return &chat.Context{S: h.srv} }

func trackedMessage(chatID, senderID string) *msgmodel.Message {
	return &msgmodel.Message{
		ID:        primitive.NewObjectID(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   "hello",
		Status:    msgmodel.StatusSent,
		Timestamp: time.Now().UTC().Add(-time.Minute),
	}
}

func TestValidationErrors(t *testing.T) {
	h := newHarness()
	c, ft := h.connect("u1")

	cases := []struct {
		name    string
		handler chat.Handler
		data    map[string]any
		detail  string
	}{
		{"login without token", NewLoginHandler(), map[string]any{}, "Token is required for login"},
		{"join without chat id", NewJoinChatHandler(), map[string]any{"token": "x"}, "Chat ID is required"},
		{"leave without chat id", NewLeaveChatHandler(), map[string]any{}, "Chat ID is required"},
		{"send without chat id", NewSendMessageHandler(), map[string]any{"content": "hi"}, "Chat ID is required"},
		{"typing start without chat id", NewTypingStartHandler(), map[string]any{}, "Chat ID is required"},
		{"typing stop without chat id", NewTypingStopHandler(), map[string]any{}, "Chat ID is required"},
		{"read without message id", NewMessageReadHandler(), map[string]any{"chat_id": "c1"}, "Message ID is required"},
		{"status check without user id", NewStatusCheckHandler(), map[string]any{}, "User ID is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt := &chat.Event{Kind: tc.handler.Kind(), Data: tc.data}
			err := tc.handler.Handle(h.cx(), evt, c)
			ce := errs.CodeOf(err)
			if ce == nil {
				t.Fatalf("err = %v, want coded error", err)
			}
			if ce.Detail != tc.detail {
				t.Errorf("detail = %q, want %q", ce.Detail, tc.detail)
			}
			if !errs.ErrArgs.Is(err) {
				t.Errorf("err = %v, want args class", err)
			}
		})
	}
	if n := ft.frameCount(); n != 0 {
		t.Errorf("validation failures wrote %d frames, errors belong to the dispatcher", n)
	}
}

func TestLeaveChatAcksAndBroadcasts(t *testing.T) {
	h := newHarness()
	c1, ft1 := h.connect("u1")
	_, ft2 := h.connect("u2")
	h.reg.JoinChat("u1", "c1")
	h.reg.JoinChat("u2", "c1")

	evt := &chat.Event{Kind: chat.KindLeaveChat, Data: map[string]any{"chat_id": "c1"}}
	if err := NewLeaveChatHandler().Handle(h.cx(), evt, c1); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	evs1 := ft1.events(t)
	if len(evs1) != 1 || evs1[0].Name != chat.EvtChatLeft {
		t.Fatalf("leaver frames = %+v", evs1)
	}
	if evs1[0].Data["status"] != "left" || evs1[0].Data["chat_id"] != "c1" {
		t.Errorf("chat_left data = %v", evs1[0].Data)
	}

	evs2 := ft2.events(t)
	if len(evs2) != 1 || evs2[0].Name != chat.EvtUserLeftChat {
		t.Fatalf("member frames = %+v", evs2)
	}
	if evs2[0].Data["user_id"] != "u1" || evs2[0].Data["reason"] != "user_left" {
		t.Errorf("user_left_chat data = %v", evs2[0].Data)
	}

	if members := h.reg.Members("c1"); len(members) != 1 || members[0] != "u2" {
		t.Errorf("members after leave = %v", members)
	}
}

func TestLeaveChatNeverJoinedStillAcks(t *testing.T) {
	h := newHarness()
	c1, ft1 := h.connect("u1")

	evt := &chat.Event{Kind: chat.KindLeaveChat, Data: map[string]any{"chat_id": "ghost"}}
	if err := NewLeaveChatHandler().Handle(h.cx(), evt, c1); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	evs := ft1.events(t)
	if len(evs) != 1 || evs[0].Name != chat.EvtChatLeft {
		t.Fatalf("frames = %+v", evs)
	}
}

func TestStatusCheckReportsPresence(t *testing.T) {
	h := newHarness()
	c1, ft1 := h.connect("u1")
	h.connect("u2")

	handler := NewStatusCheckHandler()
	for _, q := range []string{"u2", "ghost"} {
		evt := &chat.Event{Kind: chat.KindStatusCheck, Data: map[string]any{"user_id": q}}
		if err := handler.Handle(h.cx(), evt, c1); err != nil {
			t.Fatalf("Handle(%s): %v", q, err)
		}
	}

	evs := ft1.events(t)
	if len(evs) != 2 {
		t.Fatalf("frames = %+v", evs)
	}
	if evs[0].Name != chat.EvtUserStatus || evs[0].Data["user_id"] != "u2" || evs[0].Data["online"] != true {
		t.Errorf("online reply = %v", evs[0].Data)
	}
	if evs[1].Data["user_id"] != "ghost" || evs[1].Data["online"] != false {
		t.Errorf("offline reply = %v", evs[1].Data)
	}
}

func TestTypingStopClearsAndBroadcasts(t *testing.T) {
	h := newHarness()
	c1, ft1 := h.connect("u1")
	_, ft2 := h.connect("u2")
	h.reg.JoinChat("u1", "c1")
	h.reg.JoinChat("u2", "c1")
	h.reg.SetTyping("u1", "c1", true)

	evt := &chat.Event{Kind: chat.KindTypingStop, Data: map[string]any{"chat_id": "c1"}}
	if err := NewTypingStopHandler().Handle(h.cx(), evt, c1); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if typing := h.reg.TypingUsers("c1", 0); len(typing) != 0 {
		t.Errorf("still typing: %v", typing)
	}
	evs2 := ft2.events(t)
	if len(evs2) != 1 || evs2[0].Name != chat.EvtTypingStop || evs2[0].Data["user_id"] != "u1" {
		t.Fatalf("member frames = %+v", evs2)
	}
	if n := ft1.frameCount(); n != 0 {
		t.Errorf("typing user got %d frames back", n)
	}
}

func TestTypingStartBroadcastsUsernameThenStops(t *testing.T) {
	h := newHarness()
	h.users.add("u1", "alice")
	c1, ft1 := h.connect("u1")
	_, ft2 := h.connect("u2")
	h.reg.JoinChat("u1", "c1")
	h.reg.JoinChat("u2", "c1")

	start := &chat.Event{Kind: chat.KindTypingStart, Data: map[string]any{"chat_id": "c1"}}
	if err := NewTypingStartHandler().Handle(h.cx(), start, c1); err != nil {
		t.Fatalf("Handle start: %v", err)
	}
	if typing := h.reg.TypingUsers("c1", 0); len(typing) != 1 || typing[0] != "u1" {
		t.Fatalf("TypingUsers = %v, want [u1]", typing)
	}

	stop := &chat.Event{Kind: chat.KindTypingStop, Data: map[string]any{"chat_id": "c1"}}
	if err := NewTypingStopHandler().Handle(h.cx(), stop, c1); err != nil {
		t.Fatalf("Handle stop: %v", err)
	}

	evs2 := ft2.events(t)
	if len(evs2) != 2 {
		t.Fatalf("member frames = %+v, want start then stop", evs2)
	}
	if evs2[0].Name != chat.EvtUserTyping || evs2[0].Data["user_id"] != "u1" || evs2[0].Data["username"] != "alice" {
		t.Fatalf("first frame = %+v, want user_typing for alice", evs2[0])
	}
	if evs2[1].Name != chat.EvtTypingStop || evs2[1].Data["user_id"] != "u1" {
		t.Fatalf("second frame = %+v, want typing_stop", evs2[1])
	}
	if n := ft1.frameCount(); n != 0 {
		t.Errorf("typing user got %d frames back", n)
	}
}

func TestTypingStartUnknownUserFallsBackToID(t *testing.T) {
	h := newHarness()
	c1, _ := h.connect("u1") // no directory entry
	_, ft2 := h.connect("u2")
	h.reg.JoinChat("u1", "c1")
	h.reg.JoinChat("u2", "c1")

	evt := &chat.Event{Kind: chat.KindTypingStart, Data: map[string]any{"chat_id": "c1"}}
	if err := NewTypingStartHandler().Handle(h.cx(), evt, c1); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	evs := ft2.events(t)
	if len(evs) != 1 || evs[0].Name != chat.EvtUserTyping || evs[0].Data["username"] != "u1" {
		t.Fatalf("member frames = %+v, want user_typing with user id as the name", evs)
	}
}

func TestMessageReadViaTracker(t *testing.T) {
	h := newHarness()
	reader, ftReader := h.connect("u1")
	_, ftSender := h.connect("u2")

	m := trackedMessage("c1", "u2")
	h.tr.Track(m, chat.BuildMessagePayload(m))
	id := m.ID.Hex()

	evt := &chat.Event{Kind: chat.KindMessageRead, Data: map[string]any{"message_id": id}}
	if err := NewMessageReadHandler().Handle(h.cx(), evt, reader); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	evs := ftReader.events(t)
	if len(evs) != 1 || evs[0].Name != chat.EvtReadConfirmed {
		t.Fatalf("reader frames = %+v", evs)
	}
	if evs[0].Data["id"] != id || evs[0].Data["chat_id"] != "c1" {
		t.Errorf("read_confirmed data = %v", evs[0].Data)
	}

	sevs := ftSender.events(t)
	if len(sevs) != 1 || sevs[0].Name != chat.EvtMessageRead {
		t.Fatalf("sender frames = %+v", sevs)
	}
	if sevs[0].Data["reader_id"] != "u1" || sevs[0].Data["manual_read"] != true {
		t.Errorf("message_read data = %v", sevs[0].Data)
	}

	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if len(h.store.updates) != 1 || h.store.updates[0] != id+":"+msgmodel.StatusRead {
		t.Errorf("persisted updates = %v", h.store.updates)
	}
}

func TestMessageReadAcceptsShortIDKey(t *testing.T) {
	h := newHarness()
	reader, ftReader := h.connect("u1")
	_, ftSender := h.connect("u2")

	m := trackedMessage("c1", "u2")
	h.tr.Track(m, chat.BuildMessagePayload(m))
	id := m.ID.Hex()

	evt := &chat.Event{Kind: chat.KindMessageRead, Data: map[string]any{"id": id}}
	if err := NewMessageReadHandler().Handle(h.cx(), evt, reader); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	evs := ftReader.events(t)
	if len(evs) != 1 || evs[0].Name != chat.EvtReadConfirmed || evs[0].Data["id"] != id {
		t.Fatalf("reader frames = %+v", evs)
	}
	if sevs := ftSender.events(t); len(sevs) != 1 || sevs[0].Name != chat.EvtMessageRead {
		t.Fatalf("sender frames = %+v", sevs)
	}
}

func TestMessageReadOwnMessageRejected(t *testing.T) {
	h := newHarness()
	reader, ftReader := h.connect("u1")

	m := trackedMessage("c1", "u1")
	h.tr.Track(m, nil)

	evt := &chat.Event{Kind: chat.KindMessageRead, Data: map[string]any{"message_id": m.ID.Hex()}}
	err := NewMessageReadHandler().Handle(h.cx(), evt, reader)
	if !errs.ErrSelfRead.Is(err) {
		t.Fatalf("err = %v, want self-read rejection", err)
	}
	if n := ftReader.frameCount(); n != 0 {
		t.Errorf("rejected read wrote %d frames", n)
	}
}

func TestUpdateLastReadIsFireAndForget(t *testing.T) {
	h := newHarness()
	reader, ftReader := h.connect("u1")
	_, ftSender := h.connect("u2")

	m := trackedMessage("c1", "u2")
	h.tr.Track(m, nil)
	h.tr.RecordDelivery(context.Background(), m.ID.Hex(), "u1")

	handler := NewUpdateLastReadHandler()
	for _, data := range []map[string]any{
		{},
		{"last_message_time": "not-a-time"},
	} {
		evt := &chat.Event{Kind: chat.KindUpdateLastRead, Data: data}
		if err := handler.Handle(h.cx(), evt, reader); err != nil {
			t.Fatalf("Handle(%v): %v", data, err)
		}
	}
	if n := ftReader.frameCount(); n != 0 {
		t.Fatalf("fire-and-forget handler wrote %d frames", n)
	}

	mark := time.Now().UTC().Format(time.RFC3339)
	evt := &chat.Event{Kind: chat.KindUpdateLastRead, Data: map[string]any{"last_message_time": mark}}
	if err := handler.Handle(h.cx(), evt, reader); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	sevs := ftSender.events(t)
	if len(sevs) == 0 {
		t.Fatal("watermark promotion sent nothing to the sender")
	}
	last := sevs[len(sevs)-1]
	if last.Name != chat.EvtMessageRead || last.Data["auto_read"] != true {
		t.Errorf("promotion frame = %+v", last)
	}
	if n := ftReader.frameCount(); n != 0 {
		t.Errorf("watermark update acked with %d frames", n)
	}
}
