package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"notefiber-collab/internal/pkg/logger"
	"notefiber-collab/internal/pkg/serverutils"
	"notefiber-collab/internal/service"
	internalWS "notefiber-collab/internal/websocket"
	"notefiber-collab/pkg/crdt"
)

const syncModule = "SyncHandler"

// SyncHandler serves document sockets plus the HTTP side of the sync
// protocol for clients that cannot hold a socket open.
type SyncHandler struct {
	documents service.IDocumentService
	hub       *internalWS.Hub
	jwtSecret string
	logger    logger.ILogger
}

func NewSyncHandler(documents service.IDocumentService, hub *internalWS.Hub, jwtSecret string, log logger.ILogger) *SyncHandler {
	return &SyncHandler{
		documents: documents,
		hub:       hub,
		jwtSecret: jwtSecret,
		logger:    log,
	}
}

func (h *SyncHandler) RegisterRoutes(r fiber.Router) {
	// the socket authenticates itself so browsers can pass ?token=
	r.Get("/documents/:id/ws", h.ServeWs)

	auth := serverutils.JwtMiddleware(h.jwtSecret)
	r.Get("/documents/:id/snapshot", auth, h.Snapshot)
	r.Get("/documents/:id/state-vector", auth, h.StateVector)
	r.Post("/documents/:id/updates", auth, h.PostUpdate)
	r.Post("/documents/:id/compact", auth, h.Compact)
}

// ServeWs upgrades the request to a document socket.
func (h *SyncHandler) ServeWs(c *fiber.Ctx) error {
	documentID := c.Params("id")
	userID := "anonymous"

	if h.jwtSecret != "" {
		tokenStr := serverutils.BearerToken(c)
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, "Missing token (Query 'token' or Header 'Authorization')"))
		}
		id, err := serverutils.ParseUserID(h.jwtSecret, tokenStr)
		if err != nil {
			h.logger.Warn(syncModule, "Invalid token in WS handshake", map[string]interface{}{"document_id": documentID})
			return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, "Invalid token"))
		}
		userID = id
	}

	if websocket.IsWebSocketUpgrade(c) {
		return websocket.New(func(conn *websocket.Conn) {
			h.logger.Info(syncModule, "Starting document session", map[string]interface{}{"document_id": documentID, "user_id": userID})
			internalWS.ServeWs(context.Background(), h.hub, conn, documentID, userID)
			h.logger.Info(syncModule, "Document session ended", map[string]interface{}{"document_id": documentID, "user_id": userID})
		})(c)
	}
	return fiber.ErrUpgradeRequired
}

// Snapshot returns the encoded document. With ?sv= (base64url JSON state
// vector) only the missing part is returned.
func (h *SyncHandler) Snapshot(c *fiber.Ctx) error {
	since, err := decodeStateVector(c.Query("sv"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid state vector")
	}
	update, err := h.documents.Snapshot(c.UserContext(), c.Params("id"), since)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.Send(update)
}

func (h *SyncHandler) StateVector(c *fiber.Ctx) error {
	sv, err := h.documents.StateVector(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(serverutils.SuccessResponse("Success get state vector", sv))
}

// PostUpdate relays an update exactly as if a socket had sent it.
func (h *SyncHandler) PostUpdate(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "empty update")
	}
	// fasthttp reuses the request buffer
	update := append([]byte(nil), body...)

	if err := h.hub.Receive(c.UserContext(), c.Params("id"), nil, update); err != nil {
		if errors.Is(err, internalWS.ErrFrameTooLarge) {
			return fiber.NewError(fiber.StatusRequestEntityTooLarge, err.Error())
		}
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Update accepted", nil))
}

func (h *SyncHandler) Compact(c *fiber.Ctx) error {
	if err := h.documents.Compact(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(serverutils.SuccessResponse("Document compacted", nil))
}

func decodeStateVector(raw string) (crdt.StateVector, error) {
	if raw == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return nil, err
	}
	var sv crdt.StateVector
	if err := json.Unmarshal(data, &sv); err != nil {
		return nil, err
	}
	if sv == nil {
		sv = crdt.StateVector{}
	}
	return sv, nil
}
