package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fadedpez/pointledger/pkg/events"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queryUser(r *http.Request) string {
	return r.URL.Query().Get("user_id")
}

func TestHubDeliversOnlyToOwner(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub.Handler(queryUser))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?user_id=u1", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count("u1") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.PublishBalanceChanged(context.Background(), events.BalanceChanged{UserID: "u2", EntryID: "other"}))
	require.NoError(t, hub.PublishBalanceChanged(context.Background(), events.BalanceChanged{
		UserID: "u1", EntryID: "e1", Balance: decimal.RequireFromString("42"),
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type  string                `json:"type"`
		Event events.BalanceChanged `json:"event"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "balance_changed", msg.Type)
	assert.Equal(t, "e1", msg.Event.EntryID, "u2's event must not reach u1")
	assert.Equal(t, "42", msg.Event.Balance.String())

	conn.Close()
	require.Eventually(t, func() bool { return hub.Count("u1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubRejectsAnonymous(t *testing.T) {
	hub := NewHub()
	rec := httptest.NewRecorder()

	hub.Handler(queryUser)(rec, httptest.NewRequest(http.MethodGet, "/ws/balances", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
