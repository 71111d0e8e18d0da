package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"PChat/global/config"
	"PChat/logger"
	"PChat/middleware"
	chatmod "PChat/module/chat"
	chatsvc "PChat/module/chat/service"
	msgmod "PChat/module/message"
	msgsvc "PChat/module/message/service"
	usermod "PChat/module/user"
	usersvc "PChat/module/user/service"
	"PChat/service/chat"
	"PChat/service/chat/handlers"
	redisstore "PChat/service/storage/redis"
	"PChat/tools/safe"
	jwtlib "PChat/tools/security"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/netutil"
)

func main() {
	config.Load()
	config.ConfigIds()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.ConfigRedis(); err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer func() {
		if err := redisstore.CloseRedis(); err != nil {
			logger.Errorf("close redis: %v", err)
		}
	}()

	mongoCli, err := config.ConfigMongo(ctx)
	if err != nil {
		logger.Fatalf("mongo: %v", err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoCli.Disconnect(dctx); err != nil {
			logger.Errorf("mongo disconnect: %v", err)
		}
	}()
	db := mongoCli.GetDB()

	users := usersvc.NewService(db)
	chats := chatsvc.NewService(db)
	msgs := msgsvc.NewService(db)
	ensureIndexes(ctx, users, chats, msgs)

	revoked := redisstore.NewRevocationStore(redisstore.GetRedis())
	jwtOpts := config.JWTOptions()

	reg := chat.NewRegistry(chat.RegistryConf{
		TypingTTL:  config.Global.TypingExpiry,
		SweepEvery: config.Global.SweepInterval,
	})
	tracker := chat.NewTracker(reg, msgs, chat.TrackerConf{
		TTL:        config.Global.TrackerTTL,
		MaxRecords: config.Global.TrackerMax,
		SweepEvery: config.Global.TrackerSweep,
	})
	gate := chat.NewGate(jwtOpts, revoked, users)
	presence := chat.NewBroadcaster(users, chats, reg)

	disp := chat.NewDispatcher()
	disp.Register(handlers.NewLoginHandler())
	disp.Register(handlers.NewSendMessageHandler())
	disp.Register(handlers.NewJoinChatHandler())
	disp.Register(handlers.NewLeaveChatHandler())
	disp.Register(handlers.NewTypingStartHandler())
	disp.Register(handlers.NewTypingStopHandler())
	disp.Register(handlers.NewMessageReadHandler())
	disp.Register(handlers.NewUpdateLastReadHandler())
	disp.Register(handlers.NewStatusCheckHandler())

	ws := chat.NewServer(chat.ServerDeps{
		Registry: reg,
		Tracker:  tracker,
		Gate:     gate,
		Presence: presence,
		Dispatch: disp,
		Users:    users,
		Chats:    chats,
		Messages: msgs,
	}, chat.ServerConf{
		RevalidateInterval: config.Global.RevalidateInterval,
	})

	r := gin.New()
	r.Use(gin.Recovery(), middleware.CORS())
	registerRoutes(r, ws, users, chats, msgs, revoked, jwtOpts)

	ln, err := net.Listen("tcp", config.Global.Addr)
	if err != nil {
		logger.Fatalf("listen %s: %v", config.Global.Addr, err)
	}
	ln = netutil.LimitListener(ln, config.Global.MaxConns)

	srv := &http.Server{Handler: r}
	safe.Go(func() {
		logger.Infof("listening on %s", config.Global.Addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("serve: %v", err)
			stop()
		}
	})

	<-ctx.Done()
	logger.Infof("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Errorf("http shutdown: %v", err)
	}
	ws.Close()
}

// ensureIndexes is best-effort: a replica that cannot build indexes at
// boot still serves traffic.
func ensureIndexes(ctx context.Context, users *usersvc.Service, chats *chatsvc.Service, msgs *msgsvc.Service) {
	ictx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := users.EnsureIndexes(ictx); err != nil {
		logger.Warnf("user indexes: %v", err)
	}
	if err := chats.EnsureIndexes(ictx); err != nil {
		logger.Warnf("chat indexes: %v", err)
	}
	if err := msgs.EnsureIndexes(ictx); err != nil {
		logger.Warnf("message indexes: %v", err)
	}
}

func registerRoutes(
	r *gin.Engine,
	ws *chat.Server,
	users *usersvc.Service,
	chats *chatsvc.Service,
	msgs *msgsvc.Service,
	revoked *redisstore.RevocationStore,
	jwtOpts jwtlib.Options,
) {
	userH := usermod.NewHandler(users, revoked, jwtOpts)
	chatH := chatmod.NewHandler(chats, msgs, users)
	msgH := msgmod.NewHandler(msgs)

	auth := middleware.RouteOpt{IsAuth: true}
	open := middleware.RouteOpt{}

	api := r.Group("/api")
	middleware.POST(api, "/auth/register", userH.Register, open)
	middleware.POST(api, "/auth/login", userH.Login, open)
	middleware.POST(api, "/auth/logout", userH.Logout, auth)
	middleware.GET(api, "/auth/user/:user_id", userH.GetByID, open)

	middleware.GET(api, "/users", userH.List, auth)
	middleware.GET(api, "/chats", chatH.List, auth)
	middleware.POST(api, "/chats", chatH.Create, auth)

	middleware.GET(api, "/chats/:chat_id/messages", msgH.Page, auth)
	middleware.POST(api, "/messages", msgH.Send, auth)
	middleware.GET(api, "/message/:message_id", msgH.Get, auth)
	middleware.PATCH(api, "/messages/:message_id/read", msgH.MarkRead, auth)
	middleware.PATCH(api, "/chats/:chat_id/read-all", msgH.MarkAllRead, auth)
	middleware.DELETE(api, "/messages/:message_id/delete_soft", msgH.SoftDelete, auth)
	middleware.DELETE(api, "/messages/:message_id/delete_permanent", msgH.PermanentDelete, auth)
	middleware.DELETE(api, "/messages/bulk", msgH.BulkSoftDelete, auth)
	middleware.DELETE(api, "/messages/bulk/permanently", msgH.BulkPermanentDelete, auth)

	// socket auth rides the token query parameter, not the middleware
	r.GET("/ws", ws.HandleWS)
	middleware.GET(r, "/ws/status", ws.WSStatus, auth)
	middleware.GET(r, "/ws/chat/:chat_id/participants", ws.ChatParticipants, auth)
	middleware.POST(r, "/ws/broadcast/:chat_id", ws.AdminBroadcast, auth)
}
