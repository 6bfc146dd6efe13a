package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"harmonyshield/internal/auth"
	"harmonyshield/internal/config"
	"harmonyshield/internal/models"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server, string) {
	t.Helper()
	hub, srv, authSvc := newHubServer(t)
	return hub, srv, issueToken(t, authSvc, uuid.New(), models.RoleAdmin)
}

func newHubServer(t *testing.T) (*Hub, *httptest.Server, *auth.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(config.WebSocketConfig{ReadBufferSize: 1024, WriteBufferSize: 1024}, nil, zap.NewNop())
	authSvc := auth.NewService(nil, "secret", time.Hour, 4, zap.NewNop())

	router := gin.New()
	router.GET("/ws", auth.RequireSession(authSvc), hub.HandleWebSocket)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return hub, srv, authSvc
}

func issueToken(t *testing.T, authSvc *auth.Service, id uuid.UUID, role models.Role) string {
	t.Helper()
	token, _, err := authSvc.IssueToken(&models.UserProfile{
		Base:  models.Base{ID: id},
		Email: string(role) + "@example.com",
		Role:  role,
	})
	require.NoError(t, err)
	return token
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_DeliversChangesToSubscribers(t *testing.T) {
	hub, srv, token := newTestServer(t)

	conn := dial(t, srv, "access_token="+token+"&topic="+Topic("recovery_requests"))
	require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), Change{Table: "scam_reports", Op: OpInsert}))
	require.NoError(t, hub.Publish(context.Background(), Change{Table: "recovery_requests", Op: OpUpdate, RowID: "abc"}))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeChange, msg.Type)
	assert.Equal(t, "table:recovery_requests", msg.Topic)

	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "abc", payload["row_id"])
	assert.Equal(t, "UPDATE", payload["op"])
}

func TestHub_SubscriptionRequests(t *testing.T) {
	hub, srv, token := newTestServer(t)

	conn := dial(t, srv, "access_token="+token)
	require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(SubscriptionRequest{Type: "subscribe", Topics: []string{Topic("ab_tests")}}))
	ack := readMessage(t, conn)
	assert.Equal(t, MessageTypeSubscribe, ack.Type)

	require.NoError(t, hub.Publish(context.Background(), Change{Table: "ab_tests", Op: OpDelete}))
	msg := readMessage(t, conn)
	assert.Equal(t, "table:ab_tests", msg.Topic)
}

func TestHub_RejectsAnonymous(t *testing.T) {
	_, srv, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestHub_WatchListeners(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, nil, zap.NewNop())

	var mu sync.Mutex
	var seen []Change
	hub.Watch("recovery_requests", func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, c)
	})

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, Change{Table: "recovery_requests", Op: OpInsert}))
	require.NoError(t, hub.Publish(ctx, Change{Table: "recovery_requests", Op: OpInsert}))
	require.NoError(t, hub.Publish(ctx, Change{Table: "news_articles", Op: OpInsert}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2, "every change triggers a reload, no de-duplication")
	assert.False(t, seen[0].At.IsZero())
}

func TestHub_RunWithoutRedisStopsOnCancel(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHub_UserTopicsAreScopedToOwner(t *testing.T) {
	hub, srv, authSvc := newHubServer(t)
	userID := uuid.New()
	token := issueToken(t, authSvc, userID, models.RoleUser)

	query := "access_token=" + token +
		"&topic=" + Topic("audit_logs") +
		"&topic=" + Topic("recovery_requests")
	conn := dial(t, srv, query)
	require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, Change{Table: "audit_logs", Op: OpInsert, RowID: "audit-row"}))
	require.NoError(t, hub.Publish(ctx, Change{Table: "recovery_requests", Op: OpUpdate, RowID: "other-request", OwnerID: uuid.NewString()}))
	require.NoError(t, hub.Publish(ctx, Change{Table: "recovery_requests", Op: OpUpdate, RowID: "unowned"}))
	require.NoError(t, hub.Publish(ctx, Change{Table: "recovery_requests", Op: OpUpdate, RowID: "own-request", OwnerID: userID.String()}))

	msg := readMessage(t, conn)
	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "own-request", payload["row_id"])
}

func TestHub_UserCannotSubscribeToAdminTables(t *testing.T) {
	hub, srv, authSvc := newHubServer(t)
	token := issueToken(t, authSvc, uuid.New(), models.RoleUser)

	conn := dial(t, srv, "access_token="+token)
	require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(SubscriptionRequest{
		Type:   "subscribe",
		Topics: []string{Topic("audit_logs"), Topic("news_articles")},
	}))
	ack := readMessage(t, conn)
	assert.Equal(t, MessageTypeSubscribe, ack.Type)
	payload := ack.Payload.(map[string]interface{})
	assert.ElementsMatch(t, []interface{}{"table:news_articles"}, payload["topics"])
	assert.ElementsMatch(t, []interface{}{"table:audit_logs"}, payload["rejected"])

	require.NoError(t, hub.Publish(context.Background(), Change{Table: "audit_logs", Op: OpInsert}))
	require.NoError(t, hub.Publish(context.Background(), Change{Table: "news_articles", Op: OpInsert}))
	msg := readMessage(t, conn)
	assert.Equal(t, "table:news_articles", msg.Topic)
}
