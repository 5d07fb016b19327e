package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"echonote/config"
	"echonote/core/auth"
	"echonote/core/collab"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signSyncToken(t *testing.T, secret, userID, username string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

// dialSync connects to the sync endpoint and consumes the connected
// handshake message.
func dialSync(t *testing.T, serverURL, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(serverURL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg := readSyncMessage(t, conn, collab.MsgTypeConnected)
	require.NotEmpty(t, msg.Content, "connected message must carry the connection id")
	return conn
}

// readSyncMessage reads frames until a message of the wanted type arrives.
// Queued messages are batched into one frame separated by newlines.
func readSyncMessage(t *testing.T, conn *websocket.Conn, want collab.MessageType) *collab.WSMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)

		for _, raw := range bytes.Split(frame, []byte{'\n'}) {
			if len(raw) == 0 {
				continue
			}
			var msg collab.WSMessage
			require.NoError(t, json.Unmarshal(raw, &msg))
			if msg.Type == want {
				return &msg
			}
		}
	}
}

func TestWebSocketHandler_RequiresToken(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret"}
	handler := NewSyncHandler(cfg, collab.NewNoteHub(nil))
	srv := httptest.NewServer(http.HandlerFunc(handler.WebSocketHandler))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketHandler_DeliversLargeSnapshots(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret"}
	hub := collab.NewNoteHub(nil)
	handler := NewSyncHandler(cfg, hub)
	srv := httptest.NewServer(http.HandlerFunc(handler.WebSocketHandler))
	defer srv.Close()

	connA := dialSync(t, srv.URL, signSyncToken(t, cfg.JWTSecret, "u1", "alice"))
	connB := dialSync(t, srv.URL, signSyncToken(t, cfg.JWTSecret, "u2", "bob"))

	require.NoError(t, connA.WriteJSON(&collab.WSMessage{Type: collab.MsgTypeJoinNote, NoteID: "n1"}))
	require.NoError(t, connB.WriteJSON(&collab.WSMessage{Type: collab.MsgTypeJoinNote, NoteID: "n1"}))
	require.Eventually(t, func() bool { return hub.RoomCount("n1") == 2 },
		2*time.Second, 10*time.Millisecond, "both connections must join the room")

	// A note body well past 64KB must survive the read limit intact.
	large := strings.Repeat("x", 128*1024)
	require.NoError(t, connA.WriteJSON(&collab.WSMessage{
		Type:    collab.MsgTypeNoteUpdate,
		NoteID:  "n1",
		Content: large,
	}))

	msg := readSyncMessage(t, connB, collab.MsgTypeNoteUpdated)
	assert.Equal(t, large, msg.Content)
}
