package dashboard

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/stream-journal/stream/internal/cache"
)

// Handler forwards cache events to the dashboard clients.
type Handler struct {
	server *Server
	log    *zap.Logger
}

// NewHandler creates a Handler broadcasting through server.
func NewHandler(server *Server) *Handler {
	return &Handler{server: server, log: server.log}
}

// Attach subscribes to every change of c. The returned function detaches.
func (h *Handler) Attach(c *cache.Cache) func() {
	return c.SubscribeAll(h.OnCacheEvent)
}

// OnCacheEvent broadcasts one cache change. Values are not sent; clients
// refetch what they display.
func (h *Handler) OnCacheEvent(ev cache.Event) {
	data, err := json.Marshal(CacheEventData{
		Event:     ev.Type.String(),
		Namespace: ev.Key.Namespace(),
		Key:       cache.Describe(ev.Key),
	})
	if err != nil {
		h.log.Warn("failed to marshal cache event", zap.Error(err))
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeCacheEvent, Data: data})
}
