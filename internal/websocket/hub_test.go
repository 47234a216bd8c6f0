package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"engage-service/internal/domain/notification"
	wstypes "engage-service/internal/domain/websocket"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestHubPublishesDeliveryState(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, r.RemoteAddr)
		hub.Register <- client
		go client.WritePump()
		go client.ReadPump()
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg wstypes.WSMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != wstypes.EventTypeConnected {
		t.Fatalf("expected connected event, got %+v (%v)", msg, err)
	}

	hub.DeliveryStateChanged(notification.StateChange{ID: "N1", To: notification.StateSent})

	var raw struct {
		Type wstypes.EventType         `json:"type"`
		Data wstypes.DeliveryStateData `json:"data"`
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw.Type != wstypes.EventTypeDeliveryState || raw.Data.NotificationID != "N1" || raw.Data.State != "SENT" {
		t.Fatalf("unexpected event %s", data)
	}
}

func TestSubscribeRejectsUnknownChannels(t *testing.T) {
	c := NewClient(NewHub(zap.NewNop()), nil, "test")
	if c.Subscribe("audit") {
		t.Fatal("unknown channel accepted")
	}
	if !c.Subscribe(wstypes.ChannelCampaigns) || !c.IsSubscribed(wstypes.ChannelCampaigns) {
		t.Fatal("campaigns channel should be accepted")
	}
	c.Close()
	c.Close()
}
