package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DemianF-dev/7pet-mvp-sub001/internal/backend"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/bus"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/chat"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/lifecycle"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/notify"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/profile"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/realtime"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/status"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/store"
)

// Server exposes the daemon control API to the host shell over the
// profile's Unix domain socket.
type Server struct {
	app        *fiber.App
	socketPath string
	logger     *zap.Logger

	statusStore *status.Store
	chatSvc     *chat.Service
	coordinator *notify.Coordinator
	mgr         *realtime.Manager
	binder      *lifecycle.Binder
	client      *backend.Client
	db          *store.DB
	bus         *bus.Bus
	alerts      *alertFeed
}

// NewServer creates the control API server bound to the profile's socket.
func NewServer(
	p Params,
	logger *zap.Logger,
	statusStore *status.Store,
	chatSvc *chat.Service,
	coordinator *notify.Coordinator,
	mgr *realtime.Manager,
	binder *lifecycle.Binder,
	client *backend.Client,
	db *store.DB,
	b *bus.Bus,
	alerts *alertFeed,
) *Server {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.ProfileName)
	}

	s := &Server{
		socketPath:  socketPath,
		logger:      logger,
		statusStore: statusStore,
		chatSvc:     chatSvc,
		coordinator: coordinator,
		mgr:         mgr,
		binder:      binder,
		client:      client,
		db:          db,
		bus:         b,
		alerts:      alerts,
	}

	app := fiber.New(fiber.Config{
		AppName:               "petlinkd",
		DisableStartupMessage: true,
	})
	s.register(app)
	s.app = app
	return s
}

func (s *Server) register(app *fiber.App) {
	v1 := app.Group("/v1")

	v1.Get("/status", s.handleStatus)

	v1.Post("/session", s.handleSessionStart)
	v1.Delete("/session", s.handleSessionEnd)
	v1.Post("/lifecycle", s.handleLifecycle)
	v1.Post("/connection/reconnect", s.handleReconnect)

	v1.Get("/conversations", s.handleConversations)
	v1.Post("/conversations", s.handleCreateConversation)
	v1.Delete("/conversations/:id", s.handleDeleteConversation)
	v1.Post("/conversations/:id/participants", s.handleAddParticipant)
	v1.Post("/conversations/:id/transfer", s.handleTransferConversation)
	v1.Post("/conversations/:id/open", s.handleOpenConversation)
	v1.Post("/conversations/:id/close", s.handleCloseConversation)
	v1.Get("/conversations/:id/messages", s.handleMessages)
	v1.Post("/conversations/:id/messages", s.handleSendMessage)

	v1.Get("/alerts", s.handleAlerts)
	v1.Get("/chime", s.handleChime)

	v1.Get("/notifications", s.handleNotifications)
	v1.Post("/notifications/:id/read", s.handleNotificationRead)
	v1.Post("/notifications/read", s.handleNotificationsReadAll)

	v1.Post("/push", s.handlePushRegister)

	v1.Get("/support/tickets", s.handleListSupportTickets)
	v1.Post("/support/tickets", s.handleCreateSupportTicket)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

// Start begins serving control requests. Blocks until stopped.
func (s *Server) Start() error {
	// Clean stale socket if it exists.
	if _, err := os.Stat(s.socketPath); err == nil {
		_ = os.Remove(s.socketPath)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	return s.app.Listener(listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control server stopping")
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		s.logger.Warn("control server shutdown", zap.Error(err))
	}
	_ = os.Remove(s.socketPath)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	state := s.statusStore.Snapshot()
	return c.JSON(fiber.Map{
		"status":          state.Status,
		"socketId":        state.SocketID,
		"transport":       state.Transport,
		"attempts":        state.Attempts,
		"lastError":       state.LastError,
		"lastConnectedAt": state.LastConnectedAt,
		"disabledUntil":   state.DisabledUntil,
		"userId":          s.mgr.UserID(),
	})
}

func (s *Server) handleSessionStart(c *fiber.Ctx) error {
	var in struct {
		UserID string `json:"userId"`
		Token  string `json:"token"`
	}
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if in.UserID == "" || in.Token == "" {
		return fiber.NewError(fiber.StatusBadRequest, "userId and token are required")
	}
	s.client.SetToken(in.Token)
	s.binder.SetCredentials(in.UserID, in.Token)
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleSessionEnd(c *fiber.Ctx) error {
	s.client.SetToken("")
	s.binder.SetCredentials("", "")
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleLifecycle(c *fiber.Ctx) error {
	var in struct {
		State string `json:"state"`
	}
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	switch in.State {
	case "foreground":
		s.bus.Emit(bus.KindAppForeground, nil)
	case "background":
		s.bus.Emit(bus.KindAppBackground, nil)
	case "online":
		s.bus.Emit(bus.KindAppOnline, nil)
	default:
		return fiber.NewError(fiber.StatusBadRequest, "state must be foreground, background or online")
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleReconnect(c *fiber.Ctx) error {
	if err := s.mgr.Reconnect(); err != nil {
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleConversations(c *fiber.Ctx) error {
	return c.JSON(s.chatSvc.Cache().Conversations())
}

func (s *Server) handleCreateConversation(c *fiber.Ctx) error {
	var in struct {
		Type           string   `json:"type"`
		Name           string   `json:"name"`
		ParticipantIDs []string `json:"participantIds"`
	}
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	conv, err := s.client.CreateConversation(c.Context(), in.Type, in.Name, in.ParticipantIDs)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	s.chatSvc.Cache().Upsert(conv)
	return c.Status(fiber.StatusCreated).JSON(conv)
}

func (s *Server) handleDeleteConversation(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.client.DeleteConversation(c.Context(), id); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	s.chatSvc.CloseConversation(id)
	s.chatSvc.Cache().Remove(id)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleAddParticipant(c *fiber.Ctx) error {
	var in struct {
		UserID string `json:"userId"`
	}
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if in.UserID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "userId is required")
	}
	if err := s.client.AddParticipant(c.Context(), c.Params("id"), in.UserID); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleTransferConversation(c *fiber.Ctx) error {
	var in struct {
		UserID string `json:"userId"`
	}
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if in.UserID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "userId is required")
	}
	id := c.Params("id")
	if err := s.client.TransferConversation(c.Context(), id, in.UserID); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	// After a transfer the conversation no longer belongs to this user.
	s.chatSvc.CloseConversation(id)
	s.chatSvc.Cache().Remove(id)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleOpenConversation(c *fiber.Ctx) error {
	if err := s.chatSvc.OpenConversation(c.Context(), c.Params("id")); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleCloseConversation(c *fiber.Ctx) error {
	s.chatSvc.CloseConversation(c.Params("id"))
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleMessages(c *fiber.Ctx) error {
	return c.JSON(s.chatSvc.Cache().Messages(c.Params("id")))
}

func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	var in struct {
		Content string `json:"content"`
	}
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if in.Content == "" {
		return fiber.NewError(fiber.StatusBadRequest, "content is required")
	}
	msg, err := s.chatSvc.SendMessage(c.Context(), c.Params("id"), in.Content)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// handleAlerts drains buffered transient alerts. With timeout_ms the request
// long-polls until an alert or cue arrives; after is the cursor from the
// previous response.
func (s *Server) handleAlerts(c *fiber.Ctx) error {
	after := uint64(c.QueryInt("after", 0))
	alerts, next, chimes := s.alerts.Since(after)
	if len(alerts) == 0 {
		if wait := c.QueryInt("timeout_ms", 0); wait > 0 {
			select {
			case <-s.alerts.Wait():
			case <-time.After(time.Duration(wait) * time.Millisecond):
			case <-c.Context().Done():
			}
			alerts, next, chimes = s.alerts.Since(after)
		}
	}
	return c.JSON(fiber.Map{
		"alerts": alerts,
		"next":   next,
		"chimes": chimes,
	})
}

// handleChime serves the notification cue WAV for the shell to play when the
// chime count advances.
func (s *Server) handleChime(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "audio/wav")
	return c.Send(notify.Chime())
}

func (s *Server) handleNotifications(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"notifications": s.coordinator.Notifications(),
		"unreadCount":   s.coordinator.UnreadCount(),
	})
}

func (s *Server) handleNotificationRead(c *fiber.Ctx) error {
	s.coordinator.MarkRead(c.Params("id"))
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleNotificationsReadAll(c *fiber.Ctx) error {
	s.coordinator.MarkAllRead()
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handlePushRegister(c *fiber.Ctx) error {
	var in struct {
		Endpoint string            `json:"endpoint"`
		Keys     map[string]string `json:"keys"`
	}
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if in.Endpoint == "" {
		return fiber.NewError(fiber.StatusBadRequest, "endpoint is required")
	}
	if err := s.db.SetFlag("push.endpoint", in.Endpoint, 0); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	if len(in.Keys) > 0 {
		raw, _ := json.Marshal(in.Keys)
		if err := s.db.SetFlag("push.keys", string(raw), 0); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
	}
	s.coordinator.EnablePush(c.Context())
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleListSupportTickets(c *fiber.Ctx) error {
	tickets, err := s.client.ListSupportTickets(c.Context())
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(tickets)
}

func (s *Server) handleCreateSupportTicket(c *fiber.Ctx) error {
	var in struct {
		Subject string `json:"subject"`
		Message string `json:"message"`
	}
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if in.Subject == "" || in.Message == "" {
		return fiber.NewError(fiber.StatusBadRequest, "subject and message are required")
	}
	ticket, err := s.client.CreateSupportTicket(c.Context(), in.Subject, in.Message)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(ticket)
}
