package chat

import (
	"context"

	"PChat/logger"
	chatsvc "PChat/module/chat/service"
	usersvc "PChat/module/user/service"
	"PChat/tools/errs"
)

// Broadcaster pushes user_status_update frames to everyone who shares a
// persisted chat with the user whose presence changed. Audience comes
// from the chat store, not live socket membership, so peers learn about
// users going online before either side joins a room this session.
type Broadcaster struct {
	users *usersvc.Service
	chats *chatsvc.Service
	reg   *Registry
}

func NewBroadcaster(users *usersvc.Service, chats *chatsvc.Service, reg *Registry) *Broadcaster {
	return &Broadcaster{users: users, chats: chats, reg: reg}
}

// BroadcastStatus fans the user's new presence out to chat peers.
// Offline peers are skipped silently.
func (b *Broadcaster) BroadcastStatus(ctx context.Context, userID string, online bool) error {
	u, err := b.users.GetByID(ctx, userID)
	if err != nil {
		return errs.WrapMsg(err, "presence: load user", "user_id", userID)
	}
	chats, err := b.chats.ListForUser(ctx, userID)
	if err != nil {
		return errs.WrapMsg(err, "presence: list chats", "user_id", userID)
	}

	peers := make(map[string]struct{})
	for _, ch := range chats {
		for _, p := range ch.Participants {
			if p != userID {
				peers[p] = struct{}{}
			}
		}
	}
	if len(peers) == 0 {
		return nil
	}

	data, err := Encode(EvtUserStatusUpdate, BuildUserStatusUpdate(u, online))
	if err != nil {
		return errs.WrapMsg(err, "presence: encode status")
	}
	sent := 0
	for peer := range peers {
		if b.reg.SendTo(peer, data) {
			sent++
		}
	}
	logger.Debugf("[presence] %s online=%v notified %d/%d peers", userID, online, sent, len(peers))
	return nil
}
