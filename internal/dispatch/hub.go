// Package dispatch lets any server-side code request a broadcast without
// holding a reference to a live connection. The Hub is an explicit handle
// constructed once at process start and passed to every component that
// emits notifications; there is no ambient process global.
package dispatch

import (
	"log/slog"
	"sync"

	"github.com/o-farouk/stockwire/internal/notify"
)

// Broadcaster is the gateway surface the hub needs.
type Broadcaster interface {
	Broadcast(req notify.BroadcastRequest)
}

type Hub struct {
	logger *slog.Logger

	mu sync.RWMutex
	gw Broadcaster
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger.With(slog.String("component", "dispatch_hub"))}
}

// Bind attaches the process gateway to the hub. Binding is idempotent: the
// first gateway wins and later calls return it unchanged, so repeated
// initialization can never create two independent broadcast domains.
func (h *Hub) Bind(gw Broadcaster) Broadcaster {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.gw != nil {
		h.logger.Debug("Gateway already bound; keeping existing instance")
		return h.gw
	}
	h.gw = gw
	return gw
}

// Dispatch relays a broadcast request to the bound gateway. Delivery is
// best-effort: if no gateway was ever bound in this process the request is
// dropped with a warning and the caller's operation is unaffected.
func (h *Hub) Dispatch(req notify.BroadcastRequest) {
	h.mu.RLock()
	gw := h.gw
	h.mu.RUnlock()

	if gw == nil {
		h.logger.Warn("Dispatch requested but no gateway is bound; notification dropped")
		return
	}
	gw.Broadcast(req)
}
