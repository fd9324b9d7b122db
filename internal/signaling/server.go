package signaling

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/room"
)

const maxRoomCodeLen = 128

// roomCodePattern matches one or more Unicode letters, digits or underscores.
var roomCodePattern = regexp.MustCompile(`^[\p{L}\p{N}_]+$`)

// Config wires together the runtime dependencies for the signaling service.
// Zero values fall back to the config package defaults.
type Config struct {
	// Registry is shared by every connection. If nil, a private unbounded
	// registry is created.
	Registry *room.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// AllowedOrigins is the browser Origin allow-list. Same-host origins are
	// always accepted; "*" accepts everything.
	AllowedOrigins []string

	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	MaxBytesPerSecond    int
	SendQueueBytes       int

	// ConnectsPerSecondPerIP throttles upgrades per client IP. 0 disables it.
	ConnectsPerSecondPerIP int

	// Clock drives the rate limiters. Defaults to the wall clock.
	Clock ratelimit.Clock

	// ExposeRooms serves GET /rooms with room codes and member counts.
	ExposeRooms bool
}

// Server implements the signaling WebSocket endpoint.
//
// Endpoints:
//   - GET /ws/signal/{room}/ : WebSocket signaling for one room
//   - GET /rooms             : room listing (only when ExposeRooms is set)
type Server struct {
	registry *room.Registry
	metrics  *metrics.Metrics
	log      *slog.Logger
	clock    ratelimit.Clock
	connects *ratelimit.KeyedLimiter
	upgrader websocket.Upgrader

	idleTimeout          time.Duration
	pingInterval         time.Duration
	maxMessageBytes      int64
	maxMessagesPerSecond int
	maxBytesPerSecond    int
	sendQueueBytes       int
	exposeRooms          bool

	mu       sync.Mutex
	closed   bool
	sessions map[*session]struct{}
}

func NewServer(cfg Config) *Server {
	s := &Server{
		registry:             cfg.Registry,
		metrics:              cfg.Metrics,
		log:                  cfg.Logger,
		clock:                cfg.Clock,
		idleTimeout:          cfg.IdleTimeout,
		pingInterval:         cfg.PingInterval,
		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		maxBytesPerSecond:    cfg.MaxBytesPerSecond,
		sendQueueBytes:       cfg.SendQueueBytes,
		exposeRooms:          cfg.ExposeRooms,
		sessions:             make(map[*session]struct{}),
	}
	if s.registry == nil {
		s.registry = room.NewRegistry(0)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.clock == nil {
		s.clock = ratelimit.RealClock{}
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = config.DefaultSignalingWSIdleTimeout
	}
	if s.pingInterval <= 0 {
		s.pingInterval = config.DefaultSignalingWSPingInterval
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if s.sendQueueBytes <= 0 {
		s.sendQueueBytes = config.DefaultSignalingSendQueueBytes
	}

	s.connects = ratelimit.NewKeyedLimiter(s.clock, cfg.ConnectsPerSecondPerIP, cfg.ConnectsPerSecondPerIP, 0)

	allowed := append([]string(nil), cfg.AllowedOrigins...)
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return origin.CheckRequest(r, allowed)
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/signal/{room}/{$}", s.handleSignal)
	mux.HandleFunc("GET /ws/signal/{room}", s.handleSignal)
	if s.exposeRooms {
		mux.HandleFunc("GET /rooms", s.handleRooms)
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Registry returns the room registry shared by this server's connections.
func (s *Server) Registry() *room.Registry {
	return s.registry
}

// ActiveSessions returns the number of live signaling connections.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close sends a going-away close frame to every live connection and tears
// it down, which removes it from its room. Connections accepted afterwards
// are refused the same way.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.closeWith(websocket.CloseGoingAway, "server shutting down")
		sess.Close()
	}
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("room")
	if !validRoomCode(code) {
		http.NotFound(w, r)
		return
	}

	if !s.connects.Allow(clientIP(r)) {
		s.metrics.Inc(metrics.ConnectsRejected)
		s.log.Info("signal_ws_connect_rate_limited", "remote_addr", r.RemoteAddr, "room", code)
		writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "too many connection attempts")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error response.
		s.metrics.Inc(metrics.ConnectsRejected)
		s.log.Debug("signal_ws_upgrade_failed", "remote_addr", r.RemoteAddr, "room", code, "origin", r.Header.Get("Origin"), "err", err)
		return
	}
	s.metrics.Inc(metrics.ConnectionsAccepted)

	sess := newSession(s, conn, code, r.RemoteAddr)
	if !s.track(sess) {
		sess.closeWith(websocket.CloseGoingAway, "server shutting down")
		sess.Close()
		return
	}
	sess.run()
}

type roomsResponse struct {
	Rooms []room.Info `json:"rooms"`
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, roomsResponse{Rooms: s.registry.Snapshot()})
}

func (s *Server) track(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func validRoomCode(code string) bool {
	return len(code) > 0 && len(code) <= maxRoomCodeLen && roomCodePattern.MatchString(code)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type httpErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, httpErrorResponse{Code: code, Message: message})
}
