package server

import (
	"context"
	"net/http"

	"echonote/config"
	"echonote/core/auth"
	"echonote/core/collab"
	"echonote/logger"

	"github.com/gorilla/websocket"
)

// SyncHandler owns the websocket endpoint for collaborative editing.
type SyncHandler struct {
	cfg      *config.Config
	hub      *collab.NoteHub
	upgrader websocket.Upgrader
}

// NewSyncHandler creates the websocket handler.
func NewSyncHandler(cfg *config.Config, hub *collab.NoteHub) *SyncHandler {
	return &SyncHandler{
		cfg: cfg,
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WebSocketHandler upgrades the connection and runs the message pumps.
// The token travels as a query parameter since websocket clients cannot
// set headers.
func (h *SyncHandler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		return
	}

	claims, err := auth.ParseToken(token, h.cfg.JWTSecret)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	client := collab.NewClient(h.hub, conn, claims.UserID, claims.Username)

	go client.WritePump()
	go client.ReadPump(context.Background(), h.handleMessage)

	// Tell the client its connection id so HTTP-initiated publishes can
	// exclude it as the sender.
	client.SendMessage(&collab.WSMessage{Type: collab.MsgTypeConnected, Content: client.ID})

	logger.Info("sync connection established",
		logger.String("conn", client.ID),
		logger.String("user", claims.UserID))
}

// handleMessage dispatches one inbound sync message.
func (h *SyncHandler) handleMessage(ctx context.Context, client *collab.Client, msg *collab.WSMessage) {
	switch msg.Type {
	case collab.MsgTypeJoinNote:
		if msg.NoteID == "" {
			client.SendMessage(&collab.WSMessage{Type: collab.MsgTypeError, Error: "noteId is required"})
			return
		}
		h.hub.Join(client, msg.NoteID)

	case collab.MsgTypeLeaveNote:
		if msg.NoteID == "" {
			return
		}
		h.hub.Leave(client, msg.NoteID)

	case collab.MsgTypeNoteUpdate:
		if msg.NoteID == "" {
			client.SendMessage(&collab.WSMessage{Type: collab.MsgTypeError, Error: "noteId is required"})
			return
		}
		// Joining implicitly keeps a fast editor's membership and
		// presence fresh; join is idempotent.
		h.hub.Join(client, msg.NoteID)
		h.hub.Publish(client, msg.NoteID, msg.Content)

	default:
		logger.Debug("unknown sync message type",
			logger.String("type", string(msg.Type)),
			logger.String("conn", client.ID))
	}
}
