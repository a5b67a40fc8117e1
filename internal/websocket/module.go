package websocket

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	killmailsServices "wanderer-kills/internal/killmails/services"
	subs "wanderer-kills/internal/subscriptions/services"
	"wanderer-kills/internal/websocket/services"
	"wanderer-kills/pkg/module"
	"wanderer-kills/pkg/pubsub"
)

// Module owns the websocket transport and the killmails:lobby channel.
type Module struct {
	*module.BaseModule
	lobby    *services.Lobby
	upgrader websocket.Upgrader
}

// Config tunes the module.
type Config struct {
	PreloadRealtimePriority bool
}

// New creates the websocket module instance.
func New(manager *subs.Manager, killService *killmailsServices.Service, history services.HistorySource, bus *pubsub.Broadcaster, cfg Config) *Module {
	preloader := services.NewPreloader(killService, history, cfg.PreloadRealtimePriority)
	lobby := services.NewLobby(manager, preloader, bus)

	return &Module{
		BaseModule: module.NewBaseModule("websocket"),
		lobby:      lobby,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The API is anonymous; cross-origin browsers are allowed.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes registers the websocket endpoint on a Chi router.
func (m *Module) Routes(r chi.Router) {
	r.Get("/websocket", m.handleConnect)
	m.RegisterHealthRoute(r)
}

func (m *Module) handleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := services.NewConnection(conn)
	slog.Info("WebSocket connected", "connection_id", c.ID, "remote", r.RemoteAddr)

	go m.lobby.Handle(c)
}
