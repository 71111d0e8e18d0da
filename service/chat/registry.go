package chat

import (
	"sync"
	"time"

	"PChat/logger"
	"PChat/tools/safe"
)

// ===== configuration =====

type RegistryConf struct {
	TypingTTL  time.Duration    // typing entry lifetime
	SweepEvery time.Duration    // background sweep period, <0 disables the sweeper
	Clock      func() time.Time // injectable clock for tests, nil => time.Now
}

func (c *RegistryConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = 5 * time.Second
	}
	if c.SweepEvery == 0 {
		c.SweepEvery = 10 * time.Second
	}
}

// ===== registry =====

// Registry owns all live-connection state: user -> connection (one per
// user, a later login replaces an earlier one), chat -> joined members
// plus the inverse index, and per-chat typing entries with expiry. The
// forward and inverse membership indices mutate under one lock so readers
// never observe them disagreeing. Pure in-memory; the only I/O is
// sending frames through registered transports.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Conn

	chats     map[string]map[string]struct{} // chat -> joined users
	userChats map[string]map[string]struct{} // user -> joined chats

	typing map[string]map[string]time.Time // chat -> user -> typing start

	conf     RegistryConf
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewRegistry(conf RegistryConf) *Registry {
	conf.norm()
	r := &Registry{
		byUser:    make(map[string]*Conn),
		chats:     make(map[string]map[string]struct{}),
		userChats: make(map[string]map[string]struct{}),
		typing:    make(map[string]map[string]time.Time),
		conf:      conf,
		stopCh:    make(chan struct{}),
	}
	if conf.SweepEvery > 0 {
		safe.Go(r.sweeper)
	}
	return r
}

// Register stores c as the user's live connection and returns the
// replaced one, if any. Closing the replaced connection is the caller's
// job. Chat memberships survive a replacement: the user never stopped
// being connected.
func (r *Registry) Register(c *Conn) (prior *Conn) {
	r.mu.Lock()
	prior = r.byUser[c.UserID]
	r.byUser[c.UserID] = c
	r.mu.Unlock()

	logger.Infof("[registry] user %s connected session=%s", c.UserID, c.SessionID)
	return prior
}

// Unregister removes c and purges every membership and typing entry of
// the user. It is identity-guarded: when a newer connection has already
// replaced c the call is a no-op and removed is false, so a stale
// teardown never tears down the successor's state. typingChats lists the
// chats the user was still typing in, for the caller's implicit
// typing_stop broadcast.
func (r *Registry) Unregister(userID string, c *Conn) (typingChats []string, removed bool) {
	r.mu.Lock()
	if r.byUser[userID] != c {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.byUser, userID)
	typingChats = r.dropLocked(userID)
	r.mu.Unlock()

	logger.Infof("[registry] user %s disconnected", userID)
	return typingChats, true
}

// dropLocked removes every membership and typing entry of userID from
// both index directions. Caller holds the write lock.
func (r *Registry) dropLocked(userID string) (typingChats []string) {
	for chatID := range r.userChats[userID] {
		if members := r.chats[chatID]; members != nil {
			delete(members, userID)
			if len(members) == 0 {
				delete(r.chats, chatID)
			}
		}
	}
	delete(r.userChats, userID)

	for chatID, users := range r.typing {
		if _, ok := users[userID]; ok {
			typingChats = append(typingChats, chatID)
			delete(users, userID)
			if len(users) == 0 {
				delete(r.typing, chatID)
			}
		}
	}
	return typingChats
}

// JoinChat adds the user to the chat's live room. Idempotent; a no-op
// for users without a live connection, so a membership can never outlive
// its connection.
func (r *Registry) JoinChat(userID, chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byUser[userID] == nil {
		return
	}
	members := r.chats[chatID]
	if members == nil {
		members = make(map[string]struct{})
		r.chats[chatID] = members
	}
	members[userID] = struct{}{}

	joined := r.userChats[userID]
	if joined == nil {
		joined = make(map[string]struct{})
		r.userChats[userID] = joined
	}
	joined[chatID] = struct{}{}
}

// LeaveChat removes the user from the chat's live room and drops any
// typing entry there. Idempotent; leaving a chat never joined is fine.
func (r *Registry) LeaveChat(userID, chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members := r.chats[chatID]; members != nil {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.chats, chatID)
		}
	}
	if joined := r.userChats[userID]; joined != nil {
		delete(joined, chatID)
		if len(joined) == 0 {
			delete(r.userChats, userID)
		}
	}
	if users := r.typing[chatID]; users != nil {
		delete(users, userID)
		if len(users) == 0 {
			delete(r.typing, chatID)
		}
	}
}

// Get returns the user's live connection.
func (r *Registry) Get(userID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser[userID] != nil
}

func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byUser))
	for u := range r.byUser {
		out = append(out, u)
	}
	return out
}

// Members returns a snapshot of the chat's joined users.
func (r *Registry) Members(chatID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.chats[chatID]
	out := make([]string, 0, len(members))
	for u := range members {
		out = append(out, u)
	}
	return out
}

// UserChats returns a snapshot of the chats the user has joined.
func (r *Registry) UserChats(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	joined := r.userChats[userID]
	out := make([]string, 0, len(joined))
	for c := range joined {
		out = append(out, c)
	}
	return out
}

func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) ChatCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chats)
}

// ===== sending =====

// SendTo delivers one frame to the user. A transport failure means the
// connection is dead: the user is evicted from the registry as a side
// effect and false comes back. Callers treat every send as fallible.
func (r *Registry) SendTo(userID string, payload []byte) bool {
	r.mu.RLock()
	c := r.byUser[userID]
	r.mu.RUnlock()
	if c == nil {
		return false
	}
	if err := c.Send(payload); err != nil {
		logger.Warnf("[registry] send to user %s failed, evicting: %v", userID, err)
		r.evict(userID, c)
		return false
	}
	return true
}

// evict drops a connection whose transport failed. Identity-guarded like
// Unregister.
func (r *Registry) evict(userID string, c *Conn) {
	r.mu.Lock()
	if r.byUser[userID] == c {
		delete(r.byUser, userID)
		r.dropLocked(userID)
	}
	r.mu.Unlock()
	closeQuiet(c)
}

// BroadcastToChat fans one frame out to every joined member except
// excludeUser. Failed members are evicted and the fan-out keeps going;
// the sent count comes back.
func (r *Registry) BroadcastToChat(chatID string, payload []byte, excludeUser string) int {
	sent := 0
	for _, userID := range r.Members(chatID) {
		if userID == excludeUser {
			continue
		}
		if r.SendTo(userID, payload) {
			sent++
		}
	}
	return sent
}

// ===== typing state =====

// SetTyping records or clears a typing entry. The chat set and the
// timestamp share one map here, so readers always get a consistent view.
func (r *Registry) SetTyping(userID, chatID string, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if isTyping {
		if r.byUser[userID] == nil {
			return
		}
		users := r.typing[chatID]
		if users == nil {
			users = make(map[string]time.Time)
			r.typing[chatID] = users
		}
		users[userID] = r.conf.Clock()
		return
	}

	if users := r.typing[chatID]; users != nil {
		delete(users, userID)
		if len(users) == 0 {
			delete(r.typing, chatID)
		}
	}
}

// TypingUsers returns who is typing in the chat right now, dropping
// entries older than expiry on the way (garbage collection on read).
// expiry <= 0 falls back to the configured TTL.
func (r *Registry) TypingUsers(chatID string, expiry time.Duration) []string {
	if expiry <= 0 {
		expiry = r.conf.TypingTTL
	}
	now := r.conf.Clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	users := r.typing[chatID]
	if len(users) == 0 {
		return nil
	}
	out := make([]string, 0, len(users))
	for userID, started := range users {
		if now.Sub(started) > expiry {
			delete(users, userID)
			continue
		}
		out = append(out, userID)
	}
	if len(users) == 0 {
		delete(r.typing, chatID)
	}
	return out
}

func (r *Registry) TypingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, users := range r.typing {
		n += len(users)
	}
	return n
}

// ===== sweeper =====

func (r *Registry) sweeper() {
	t := time.NewTicker(r.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case now := <-t.C:
			r.sweepOnce(now)
		}
	}
}

// sweepOnce drops typing entries that outlived the TTL. State-only
// cleanup: clients clear their own indicators, no stop broadcast goes
// out.
func (r *Registry) sweepOnce(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for chatID, users := range r.typing {
		for userID, started := range users {
			if now.Sub(started) > r.conf.TypingTTL {
				delete(users, userID)
			}
		}
		if len(users) == 0 {
			delete(r.typing, chatID)
		}
	}
}

// Close stops the sweeper, clears all state and closes every live
// connection with the given status code.
func (r *Registry) Close(code int, reason string) {
	r.stopOnce.Do(func() { close(r.stopCh) })

	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.byUser))
	for _, c := range r.byUser {
		conns = append(conns, c)
	}
	r.byUser = make(map[string]*Conn)
	r.chats = make(map[string]map[string]struct{})
	r.userChats = make(map[string]map[string]struct{})
	r.typing = make(map[string]map[string]time.Time)
	r.mu.Unlock()

	// close outside the lock
	for _, c := range conns {
		c.Close(code, reason)
	}
}
