package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "ironwill/contracts/mq"
	"ironwill/internal/model"
)

func serveHub(t *testing.T, hub *Hub) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(r.Context(), NewClient(r.URL.Query().Get("user"), conn))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubDeliversOnlyToOwner(t *testing.T) {
	hub := NewHub(zap.NewNop())
	url := serveHub(t, hub)

	alice := dial(t, url+"?user=alice")
	bob := dial(t, url+"?user=bob")
	require.Eventually(t, func() bool {
		return hub.Connections("alice") == 1 && hub.Connections("bob") == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.DailyLogChanged(context.Background(),
		model.DailyLog{ID: "log-1", UserID: "alice", LogDate: "2025-03-10"}, mqcontracts.ChangeCreated)

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, alice.ReadJSON(&msg))
	assert.Equal(t, mqcontracts.RoutingKeyDailyLogChanged, msg.Type)

	var payload mqcontracts.DailyLogChangedPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "log-1", payload.LogID)
	assert.Equal(t, mqcontracts.ChangeCreated, payload.Change)

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err)
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub := NewHub(zap.NewNop())
	url := serveHub(t, hub)

	conn := dial(t, url+"?user=alice")
	require.Eventually(t, func() bool { return hub.Connections("alice") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Connections("alice") == 0 }, 2*time.Second, 10*time.Millisecond)
}

type failingBroker struct{ calls int }

func (b *failingBroker) Publish(context.Context, string, Message) error {
	b.calls++
	return errors.New("redis down")
}

func TestHubFallsBackToLocalDelivery(t *testing.T) {
	broker := &failingBroker{}
	hub := NewHub(zap.NewNop()).WithBroker(broker)
	url := serveHub(t, hub)

	conn := dial(t, url+"?user=alice")
	require.Eventually(t, func() bool { return hub.Connections("alice") == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.StatsUpdated(context.Background(), mqcontracts.StatsUpdatedPayload{UserID: "alice", CurrentStreak: 4})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, mqcontracts.RoutingKeyStatsUpdated, msg.Type)
	assert.Equal(t, 1, broker.calls)
}
