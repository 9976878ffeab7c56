package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chirp-social/realtime/internal/middleware"
	"github.com/chirp-social/realtime/internal/model"
	"github.com/chirp-social/realtime/internal/realtime"
	"github.com/chirp-social/realtime/pkg/logger"
)

// RealtimeHandler upgrades authenticated requests to live connections and
// exposes the presence set over REST.
type RealtimeHandler struct {
	hub      *realtime.Hub
	opts     realtime.ConnOptions
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewRealtimeHandler creates a realtime handler. An empty origin list
// accepts any origin.
func NewRealtimeHandler(hub *realtime.Hub, opts realtime.ConnOptions, allowedOrigins []string, log *logger.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		hub:  hub,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: log.Named("ws"),
	}
}

// Connect handles GET /ws
func (h *RealtimeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		h.logger.Warn("websocket upgrade failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	realtime.NewConn(ws, userID, h.opts, h.logger).Serve(r.Context(), h.hub)
}

// Online handles GET /api/v1/user/online
func (h *RealtimeHandler) Online(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &model.OnlineUsersResponse{
		Success: true,
		Users:   h.hub.Online(),
	})
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}
