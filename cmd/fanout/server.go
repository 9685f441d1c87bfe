package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hellocng/deepstack-sub002/common/logger"
	"github.com/hellocng/deepstack-sub002/common/models"
	"github.com/hellocng/deepstack-sub002/common/notifier"
	rediscommon "github.com/hellocng/deepstack-sub002/common/redis"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server upgrades watchers and reports hub statistics
type Server struct {
	hub   *Hub
	redis *rediscommon.Client
	log   *logger.Logger
}

// NewServer creates a new Server instance
func NewServer(hub *Hub, redis *rediscommon.Client, log *logger.Logger) *Server {
	return &Server{
		hub:   hub,
		redis: redis,
		log:   log,
	}
}

// HandleWebSocket subscribes the caller to one waitlist
// URL: /ws?room=bellagio&game=nlh-2-5
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		// Browsers cannot set headers on WebSocket handshakes
		userID = r.URL.Query().Get("user")
	}
	if userID == "" {
		http.Error(w, "X-User-ID header or user query parameter required", http.StatusUnauthorized)
		return
	}

	p := models.Partition{
		RoomID: r.URL.Query().Get("room"),
		GameID: r.URL.Query().Get("game"),
	}
	if !p.Valid() {
		http.Error(w, "room and game query parameters required, without ':'", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, p.Key(), userID)

	// The first frame carries the current revision so the watcher can tell
	// whether its list is already stale
	if revision, err := notifier.Revision(r.Context(), s.redis, p); err != nil {
		s.log.Warn("failed to read partition revision", "partition", p.Key(), "error", err)
	} else if payload, err := notifier.Encode(p, revision, time.Now()); err == nil {
		client.send <- payload
	}

	if !s.hub.Register(client) {
		conn.Close()
		return
	}

	s.log.Info("watcher connected",
		"room_id", p.RoomID,
		"game_id", p.GameID,
		"user_id", userID,
		"remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}

// HandleStats reports how many watchers are connected
// GET /stats
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"connections": s.hub.ConnectionCount(),
		"partitions":  s.hub.PartitionCount(),
	})
}
