package api

import (
	"context"
	"sync"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/entraide-ong/backoffice/internal/auth"
	"github.com/entraide-ong/backoffice/internal/cache"
	"github.com/entraide-ong/backoffice/internal/realtime"
	"github.com/entraide-ong/backoffice/internal/repository"
	"github.com/entraide-ong/backoffice/internal/store"
)

// wsCommand is what the admin panel sends down the socket.
type wsCommand struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id,omitempty"`
	Content string `json:"content,omitempty"`
	ID      string `json:"id,omitempty"`
}

type wsSessionDeps struct {
	messages      *repository.MessageRepository
	notifications *repository.NotificationRepository
	presence      *cache.Client
	bus           realtime.Channel
	limiter       *UserRateLimiter
	log           *zap.SugaredLogger
}

// wsSession owns one staff member's live view: a conversation store, a
// notification store and the thread store for whichever correspondent is
// open. Everything is disposed when the socket closes.
type wsSession struct {
	wsSessionDeps
	id     string
	claims *auth.Claims
	conn   *websocket.Conn
	wmu    sync.Mutex
}

func handleWS(deps wsSessionDeps, conn *websocket.Conn) {
	defer conn.Close()
	claims := conn.Locals("claims").(*auth.Claims)
	s := &wsSession{
		wsSessionDeps: deps,
		id:            uuid.NewString(),
		claims:        claims,
		conn:          conn,
	}

	ctx := context.Background()
	_ = s.presence.SetPresence(ctx, claims.UserID, true)
	s.log.Infow("ws connected", "user", claims.UserID, "session", s.id)

	conv := store.NewConversationStore(claims.UserID, s.messages, s.bus, s.log)
	notif := store.NewNotificationStore(claims.UserID, s.notifications, s.bus, s.log)
	thread := store.NewThreadStore(claims.UserID, s.messages, s.bus, s.log)

	cancelConv := conv.OnChange(func() {
		s.push("conversations", map[string]any{"conversations": conv.Conversations()})
	})
	cancelNotif := notif.OnChange(func() {
		s.push("notifications", map[string]any{
			"notifications": notif.Notifications(),
			"unread":        notif.Unread(),
		})
	})
	cancelThread := thread.OnChange(func() {
		s.push("thread", map[string]any{
			"other":    thread.Other(),
			"messages": thread.Messages(),
		})
	})

	if err := conv.Start(ctx); err != nil {
		s.log.Errorw("start conversation store", "err", err)
	}
	if err := notif.Start(ctx); err != nil {
		s.log.Errorw("start notification store", "err", err)
	}

	defer func() {
		cancelConv()
		cancelNotif()
		cancelThread()
		thread.Close()
		notif.Close()
		conv.Close()
		_ = s.presence.SetPresence(context.Background(), claims.UserID, false)
		s.log.Infow("ws disconnected", "user", claims.UserID, "session", s.id)
	}()

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		switch cmd.Type {
		case "select":
			thread.Select(ctx, cmd.UserID)
			// opening a conversation clears its unread badge
			if cmd.UserID != "" {
				conv.MarkRead(ctx, cmd.UserID)
			}
		case "send":
			if !s.limiter.Allow(claims.UserID) {
				s.push("error", map[string]any{"error": "rate limit exceeded"})
				continue
			}
			thread.Send(ctx, cmd.Content)
		case "mark_read":
			conv.MarkRead(ctx, cmd.UserID)
		case "mark_notification_read":
			notif.MarkAsRead(ctx, cmd.ID)
		case "mark_all_notifications_read":
			notif.MarkAllAsRead(ctx)
		case "refresh":
			conv.Refresh(ctx)
			notif.Refresh(ctx)
		default:
			s.log.Debugw("unknown ws command", "type", cmd.Type)
		}
	}
}

func (s *wsSession) push(kind string, data map[string]any) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteJSON(map[string]any{"type": kind, "data": data}); err != nil {
		s.log.Debugw("ws write", "session", s.id, "err", err)
	}
}
