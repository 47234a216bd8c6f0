// internal/websocket/hub.go
package websocket

import (
	"context"
	"sync"

	"engage-service/internal/domain/notification"
	wstypes "engage-service/internal/domain/websocket"

	"go.uber.org/zap"
)

// Hub fans delivery events out to the connected feed clients.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	// Registration/unregistration
	Register   chan *Client
	unregister chan *Client

	// Broadcasting
	broadcast chan *BroadcastMessage

	logger *zap.Logger
}

type BroadcastMessage struct {
	Channel wstypes.ChannelType
	Message *wstypes.WSMessage
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan *BroadcastMessage, 256),
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.BroadcastMessage(msg)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("feed client connected",
		zap.String("remote", client.remote),
		zap.Int("total", total),
	)

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeConnected, map[string]interface{}{
		"channels": []wstypes.ChannelType{wstypes.ChannelDelivery, wstypes.ChannelCampaigns},
	}))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.Close()

		h.logger.Info("feed client disconnected",
			zap.String("remote", client.remote),
			zap.Int("total", len(h.clients)),
		)
	}
}

func (h *Hub) BroadcastMessage(msg *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.IsSubscribed(msg.Channel) {
			client.SendMessage(msg.Message)
		}
	}
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// publish never blocks the caller; events are dropped when the hub lags.
func (h *Hub) publish(channel wstypes.ChannelType, msg *wstypes.WSMessage) {
	select {
	case h.broadcast <- &BroadcastMessage{Channel: channel, Message: msg}:
	default:
		h.logger.Warn("feed event dropped", zap.String("type", string(msg.Type)))
	}
}

// DeliveryStateChanged publishes an applied notification state transition.
func (h *Hub) DeliveryStateChanged(change notification.StateChange) {
	h.publish(wstypes.ChannelDelivery, wstypes.NewMessage(wstypes.EventTypeDeliveryState, wstypes.DeliveryStateData{
		NotificationID: change.ID,
		State:          string(change.To),
		Reason:         change.Reason,
	}))
}

// CampaignCompleted publishes the end of a dissemination run.
func (h *Hub) CampaignCompleted(campaignID int64, disseminationID, group string) {
	h.publish(wstypes.ChannelCampaigns, wstypes.NewMessage(wstypes.EventTypeCampaignCompleted, wstypes.CampaignCompletedData{
		CampaignID:      campaignID,
		DisseminationID: disseminationID,
		JobGroup:        group,
	}))
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}
