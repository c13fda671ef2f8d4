package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/pairing"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/ratelimit"
)

const (
	DefaultIdleTimeout          = 60 * time.Second
	DefaultPingInterval         = 20 * time.Second
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueue            = 64
	DefaultOperationTimeout     = 5 * time.Second

	// Path is where the websocket endpoint is mounted.
	Path = "/webrtc/signal"
)

// Pairing is the subset of *pairing.Service the gateway dispatches to.
type Pairing interface {
	Join(ctx context.Context, deviceID, connID string) (pairing.JoinResult, error)
	BlockUser(ctx context.Context, targetConnID string) (pairing.BlockResult, error)
	Disconnect(ctx context.Context, connID string) error
}

// Config wires together the runtime dependencies for the gateway.
type Config struct {
	Hub     *Hub
	Pairing Pairing

	// Origins gates the websocket upgrade. Requests without an Origin
	// header (non-browser clients) are always allowed.
	Origins origin.Policy

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// IdleTimeout closes a connection that sends nothing, not even a pong,
	// for this long. PingInterval must be shorter.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes int64
	// MaxMessagesPerSecond caps inbound frames per connection. Zero picks
	// the default; a negative value disables the limit.
	MaxMessagesPerSecond int
	SendQueue            int

	// OperationTimeout bounds each store-backed event handler.
	OperationTimeout time.Duration

	// Clock drives the per-connection rate limiter.
	Clock ratelimit.Clock
}

// Server upgrades requests on Path and runs one read loop per connection.
type Server struct {
	cfg      Config
	hub      *Hub
	pairing  Pairing
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Hub == nil {
		return nil, errors.New("signaling: Hub is required")
	}
	if cfg.Pairing == nil {
		return nil, errors.New("signaling: Pairing is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = cfg.IdleTimeout / 2
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.MaxMessagesPerSecond == 0 {
		cfg.MaxMessagesPerSecond = DefaultMaxMessagesPerSecond
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSendQueue
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.RealClock{}
	}

	s := &Server{
		cfg:     cfg,
		hub:     cfg.Hub,
		pairing: cfg.Pairing,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s, nil
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET "+Path, s)
}

// Close closes every live connection. Each connection's read loop then runs
// its normal disconnect handling.
func (s *Server) Close() {
	s.hub.CloseAll()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	values := r.Header.Values("Origin")
	if len(values) == 0 || (len(values) == 1 && strings.TrimSpace(values[0]) == "") {
		return true
	}
	if len(values) == 1 {
		if _, ok := s.cfg.Origins.Check(values[0], r.Host); ok {
			return true
		}
	}
	s.metrics.Inc(metrics.ConnectionRejected)
	s.logger.Info("signaling origin rejected", "origin", strings.Join(values, ","), "host", r.Host)
	return false
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newConn(uuid.NewString(), ws, s.cfg.SendQueue)
	log := s.logger.With("conn_id", c.id)
	s.hub.register(c)
	s.metrics.Inc(metrics.ConnectionOpened)
	log.Debug("signaling connection opened", "remote_addr", r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(s.cfg.PingInterval)
	}()

	ctx := r.Context()
	s.readLoop(ctx, c, log)

	s.hub.unregister(c)
	c.close(websocket.CloseNormalClosure, "")

	disconnectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.OperationTimeout)
	if err := s.pairing.Disconnect(disconnectCtx, c.id); err != nil {
		log.Error("disconnect cleanup failed", "err", err)
	}
	cancel()

	<-writerDone
	s.metrics.Inc(metrics.ConnectionClosed)
	log.Debug("signaling connection closed")
}

func (s *Server) readLoop(ctx context.Context, c *conn, log *slog.Logger) {
	limiter := ratelimit.PerSecond(s.cfg.Clock, int64(s.cfg.MaxMessagesPerSecond))

	extend := func() { _ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)) }
	extend()
	c.ws.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		msgType, rd, err := c.ws.NextReader()
		if err != nil {
			if isTimeout(err) {
				c.close(websocket.CloseNormalClosure, "idle timeout")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug("signaling read failed", "err", err)
			}
			return
		}
		extend()

		if !limiter.Allow(1) {
			s.metrics.Inc(metrics.MessageRateLimited)
			c.close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.close(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		msg, err := readLimited(rd, s.cfg.MaxMessageBytes)
		if err != nil {
			if errors.Is(err, errMessageTooLarge) {
				s.metrics.Inc(metrics.MessageTooLarge)
				c.close(websocket.CloseMessageTooBig, "message too large")
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Type == "" {
			s.metrics.Inc(metrics.MessageMalformed)
			s.replyError(c, "invalid message")
			continue
		}
		s.dispatch(ctx, c, f, log)
	}
}

func (s *Server) dispatch(ctx context.Context, c *conn, f Frame, log *slog.Logger) {
	switch f.Type {
	case messageTypeJoin:
		s.handleJoin(ctx, c, f, log)
	case messageTypeOffer, messageTypeAnswer, messageTypeICECandidate, messageTypeChatMessage:
		s.handleRelay(c, f)
	case messageTypeBlockUser:
		s.handleBlockUser(ctx, c, f, log)
	case messageTypeLeaveCall:
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
		defer cancel()
		if err := s.pairing.Disconnect(opCtx, c.id); err != nil {
			log.Error("leave-call failed", "err", err)
		}
	default:
		log.Debug("ignoring unknown signaling event", "type", f.Type)
	}
}

func (s *Server) handleJoin(ctx context.Context, c *conn, f Frame, log *slog.Logger) {
	var req joinRequest
	if err := decodeData(f, &req); err != nil {
		s.metrics.Inc(metrics.MessageMalformed)
		s.replyError(c, "invalid join payload")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()
	res, err := s.pairing.Join(opCtx, req.DeviceID, c.id)
	if err != nil {
		s.metrics.Inc(metrics.JoinFailed)
		if !errors.Is(err, pairing.ErrMissingDevice) {
			log.Error("join failed", "device_id", req.DeviceID, "err", err)
		}
		s.replyError(c, err.Error())
		return
	}
	event, data := res.Reply()
	s.reply(c, event, data)
}

// handleRelay forwards a signaling payload to the named partner. Missing
// partners and unknown connections are dropped without telling the sender.
func (s *Server) handleRelay(c *conn, f Frame) {
	var req relayRequest
	if err := decodeData(f, &req); err != nil || req.PartnerID == "" {
		s.metrics.Inc(metrics.SignalDropped)
		return
	}
	payload, ok := relayPayload(f.Type, req, c.id)
	if !ok {
		return
	}
	if s.hub.Emit(req.PartnerID, f.Type, payload) {
		s.metrics.Inc(metrics.SignalRelayed)
		return
	}
	s.metrics.Inc(metrics.SignalDropped)
}

// handleBlockUser records the block, tells the blocked side why, and closes
// its connection so it has to reconnect and join again. The requester always
// gets an acknowledgement, even when the target was already gone.
func (s *Server) handleBlockUser(ctx context.Context, c *conn, f Frame, log *slog.Logger) {
	var req blockRequest
	if err := decodeData(f, &req); err != nil {
		s.metrics.Inc(metrics.MessageMalformed)
		s.replyError(c, "invalid block-user payload")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()
	res, err := s.pairing.BlockUser(opCtx, req.PartnerID)
	if err != nil {
		if !errors.Is(err, pairing.ErrMissingPartner) {
			log.Error("block-user failed", "target_conn_id", req.PartnerID, "err", err)
		}
		s.replyError(c, err.Error())
		return
	}
	if res.Blocked {
		s.hub.Emit(req.PartnerID, pairing.EventBlock, pairing.Blocked{Message: res.Message})
		s.hub.Close(req.PartnerID, websocket.ClosePolicyViolation, "blocked")
	}
	s.reply(c, pairing.EventBlockUserAck, pairing.BlockAck{Message: "ok"})
}

func (s *Server) reply(c *conn, event string, data any) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		s.logger.Error("encode reply", "conn_id", c.id, "event", event, "err", err)
		return
	}
	c.enqueue(frame)
}

func (s *Server) replyError(c *conn, message string) {
	s.reply(c, messageTypeError, ErrorMessage{Message: message})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
