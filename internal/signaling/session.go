package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/room"
)

const (
	// wsWriteWait bounds control frame writes (close, ping).
	wsWriteWait = 1 * time.Second
	// wsMessageWriteWait bounds a single queued text frame write.
	wsMessageWriteWait = 10 * time.Second
)

type sessionState int32

const (
	stateConnecting sessionState = iota
	stateJoined
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateJoined:
		return "joined"
	case stateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// session is one signaling WebSocket bound to a single room.
//
// The read loop runs on the HTTP handler goroutine and owns role. Outbound
// frames go through queue and are written by writeLoop.
type session struct {
	srv     *Server
	conn    *websocket.Conn
	id      room.ConnID
	room    string
	log     *slog.Logger
	limiter *ratelimit.ConnLimiter
	queue   *sendQueue
	started time.Time

	state atomic.Int32

	// role is the last role the client declared; nil until one is sent.
	role *string

	closeOnce sync.Once
	done      chan struct{}
}

var _ room.Member = (*session)(nil)

func newSession(srv *Server, conn *websocket.Conn, code, remoteAddr string) *session {
	id := room.NewConnID()
	return &session{
		srv:     srv,
		conn:    conn,
		id:      id,
		room:    code,
		log:     srv.log.With("conn_id", id.String(), "room", code, "remote_addr", remoteAddr),
		limiter: ratelimit.NewConnLimiter(srv.clock, srv.maxMessagesPerSecond, srv.maxBytesPerSecond),
		queue:   newSendQueue(srv.sendQueueBytes),
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

func (s *session) ID() room.ConnID { return s.id }

// Deliver queues a relay frame produced by another member of the room.
// Frames this session produced itself are dropped.
func (s *session) Deliver(env room.Envelope) error {
	if env.Sender == s.id {
		return nil
	}
	return s.queue.Enqueue(env.Payload)
}

func (s *session) run() {
	defer s.Close()

	if err := s.srv.registry.Join(s.room, s); err != nil {
		if errors.Is(err, room.ErrRoomFull) {
			s.srv.metrics.Inc(metrics.RoomFull)
			s.log.Info("signal_ws_room_full")
			s.closeWith(websocket.CloseTryAgainLater, "room full")
		}
		return
	}
	if !s.state.CompareAndSwap(int32(stateConnecting), int32(stateJoined)) {
		// Closed while joining; Close may have run its Leave before our Join.
		s.srv.registry.Leave(s.room, s)
		return
	}
	s.log.Info("signal_ws_connected")

	go s.writeLoop()
	if s.srv.pingInterval > 0 {
		go s.pingLoop(s.srv.pingInterval)
	}

	s.conn.SetReadLimit(s.srv.maxMessageBytes)
	s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent 1009.
				s.srv.metrics.Inc(metrics.MessagesTooLarge)
				s.log.Info("signal_ws_message_too_large", "limit_bytes", s.srv.maxMessageBytes)
			case isTimeout(err):
				s.srv.metrics.Inc(metrics.IdleTimeouts)
				s.log.Info("signal_ws_idle_timeout", "idle_timeout", s.srv.idleTimeout)
				s.closeWith(websocket.CloseNormalClosure, "idle timeout")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				s.log.Debug("signal_ws_read_failed", "err", err)
			}
			return
		}
		s.extendReadDeadline()

		// Charge the limiter after reading so the peer's bytes are consumed
		// and the close frame is not lost to a TCP reset.
		if ok, reason := s.limiter.AllowMessage(len(data)); !ok {
			s.srv.metrics.Inc(metrics.MessagesRateLimited)
			s.log.Info("signal_ws_rate_limited", "reason", reason)
			s.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		s.srv.metrics.Inc(metrics.MessagesReceived)

		if msgType != websocket.TextMessage {
			s.srv.metrics.Inc(metrics.MessagesMalformed)
			s.log.Debug("signal_ws_non_text_frame", "frame_type", msgType)
			continue
		}
		s.handleMessage(data)
	}
}

func (s *session) handleMessage(data []byte) {
	msg, err := parseInbound(data)
	if err != nil {
		s.srv.metrics.Inc(metrics.MessagesMalformed)
		s.log.Debug("signal_ws_malformed_message", "err", err)
		return
	}

	s.role = msg.Role

	if !msg.codeMatches(s.room) {
		s.srv.metrics.Inc(metrics.MessagesCodeMismatch)
		s.log.Debug("signal_ws_code_mismatch", "type", msg.typeLabel())
		return
	}

	switch kind := msg.kind(); kind {
	case kindJoin:
		frame, err := encodeJoinAck(s.role, s.room)
		if err != nil {
			s.log.Error("signal_ws_encode_failed", "type", typeJoinAck, "err", err)
			return
		}
		if s.reply(frame) {
			s.srv.metrics.Inc(metrics.JoinAcksSent)
		}
	case kindOffer, kindAnswer, kindICECandidate:
		s.relay(kind, msg.Data)
	case kindUnknown:
		s.srv.metrics.Inc(metrics.MessagesUnknownType)
		frame, err := encodeUnknownType(msg.typeLabel(), s.room)
		if err != nil {
			s.log.Error("signal_ws_encode_failed", "type", typeError, "err", err)
			return
		}
		s.reply(frame)
	}
}

func (s *session) relay(kind messageKind, data json.RawMessage) {
	frame, err := encodeRelay(kind.String(), data, s.role, s.room)
	if err != nil {
		s.log.Error("signal_ws_encode_failed", "type", kind.String(), "err", err)
		return
	}

	res := s.srv.registry.Broadcast(s.room, room.Envelope{Sender: s.id, Payload: frame}, s.id)
	s.srv.metrics.Inc(metrics.MessagesRelayed)
	s.srv.metrics.Add(metrics.DeliveriesOK, uint64(res.Delivered))
	s.srv.metrics.Add(metrics.DeliveriesFailed, uint64(res.Failed))
	s.srv.metrics.Add(metrics.MembersEvicted, uint64(res.Evicted))
	if res.Failed > 0 {
		s.log.Debug("signal_ws_relay_partial", "type", kind.String(), "delivered", res.Delivered, "failed", res.Failed, "evicted", res.Evicted)
	}
}

// reply queues frame for this session only.
func (s *session) reply(frame []byte) bool {
	if err := s.queue.Enqueue(frame); err != nil {
		s.srv.metrics.Inc(metrics.DeliveriesFailed)
		s.log.Debug("signal_ws_reply_dropped", "err", err)
		return false
	}
	return true
}

func (s *session) writeLoop() {
	for {
		frame, ok := s.queue.Dequeue()
		if !ok {
			return
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(wsMessageWriteWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			s.srv.metrics.Inc(metrics.WriteErrors)
			s.log.Debug("signal_ws_write_failed", "err", err)
			s.Close()
			return
		}
	}
}

func (s *session) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *session) extendReadDeadline() {
	if s.srv.idleTimeout <= 0 {
		return
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.idleTimeout))
}

// closeWith sends a close frame. It is safe to call concurrently with the
// writer goroutine.
func (s *session) closeWith(code int, reason string) {
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// Close leaves the room and releases the connection. Only the first call has
// any effect.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		prev := sessionState(s.state.Swap(int32(stateClosed)))
		s.srv.registry.Leave(s.room, s)
		s.queue.Close()
		close(s.done)
		_ = s.conn.Close()
		s.srv.untrack(s)
		s.srv.metrics.Inc(metrics.ConnectionsClosed)
		s.log.Info("signal_ws_disconnected",
			"state", prev.String(),
			"duration", time.Since(s.started),
			"dropped_frames", s.queue.DropCount(),
		)
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
