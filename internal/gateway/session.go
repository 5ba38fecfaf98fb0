package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Hammer-Institute/boiler/internal/proto"
	"github.com/Hammer-Institute/boiler/internal/store"
)

// State is the handshake state of a session.
type State int

const (
	// StateAwaitingIdentify is the initial state; only IDENTIFY is accepted.
	StateAwaitingIdentify State = iota
	// StateReady accepts channel traffic until close.
	StateReady
)

// Protocol error messages sent in ERROR frames.
const (
	errInvalidJSON    = "You've sent invalid JSON!"
	errNoChannel      = "You've sent a message without a channel!"
	errUnknownChannel = "That channel does not exist!"
	errNotInChannel   = "You are not in that channel!"
	errEmptyMessage   = "You can't send an empty message!"
	errInvalidStatus  = "Invalid status!"
)

// ErrSessionClosed is returned by send after the session has been closed.
var ErrSessionClosed = errors.New("session closed")

// errHandshakeViolation closes the connection with no diagnostic frame.
var errHandshakeViolation = errors.New("handshake violation")

// Session owns one live connection: handshake gate, heartbeat schedule, and
// opcode dispatch. Handle is invoked by a single reader goroutine, so frames
// from one connection are processed strictly in arrival order; send may be
// called from any goroutine.
type Session struct {
	ID   string
	User *store.User

	gw   *Gateway
	conn Conn
	log  zerolog.Logger

	// state belongs to the reader goroutine only.
	state State
	// lastAck belongs to the reader goroutine only.
	lastAck time.Time

	mu        sync.Mutex
	closed    bool
	hbStop    chan struct{}
	closeOnce sync.Once
}

func newSession(g *Gateway, conn Conn, user *store.User) *Session {
	id := uuid.NewString()
	logger := g.log.With().
		Str("session_id", id).
		Int64("user_id", user.ID).
		Str("username", user.Username).
		Logger()

	return &Session{
		ID:    id,
		User:  user,
		gw:    g,
		conn:  conn,
		log:   logger,
		state: StateAwaitingIdentify,
	}
}

// State returns the current handshake state.
func (s *Session) State() State {
	return s.state
}

// Handle processes one raw inbound frame. A non-nil return means the
// connection must be closed by the transport loop.
func (s *Session) Handle(ctx context.Context, raw []byte) error {
	var in proto.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		// Fatal at any state; a diagnostic is sent before closing.
		s.sendError(errInvalidJSON)
		return fmt.Errorf("malformed frame: %w", err)
	}

	switch s.state {
	case StateAwaitingIdentify:
		return s.handleIdentify(ctx, in)
	case StateReady:
		return s.handleReady(ctx, in)
	default:
		return fmt.Errorf("unknown session state %d", s.state)
	}
}

// handleIdentify gates the handshake. Anything but a well-formed IDENTIFY
// closes the connection with no error frame; handshake violations are not
// diagnosable to the client.
func (s *Session) handleIdentify(ctx context.Context, in proto.Inbound) error {
	if in.Op != proto.OpIdentify || in.Type != proto.TypeIdentify {
		s.log.Debug().Int("op", int(in.Op)).Str("type", in.Type).Msg("frame before IDENTIFY")
		return errHandshakeViolation
	}

	var data proto.IdentifyData
	if len(in.Data) > 0 {
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return errHandshakeViolation
		}
	}

	interval := s.clampHeartbeat(time.Duration(data.HeartbeatInterval) * time.Millisecond)
	s.startHeartbeat(interval)

	channels, err := s.gw.store.ListUserChannels(ctx, s.User.ID)
	if err != nil {
		return fmt.Errorf("list user channels: %w", err)
	}
	infos := make([]proto.ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		infos = append(infos, channelInfo(ch))
	}

	if err := s.send(proto.Outbound{
		Op:   proto.OpReady,
		Type: proto.TypeReady,
		Data: proto.ReadyData{
			User:     userInfo(s.User),
			Channels: infos,
		},
	}); err != nil {
		return err
	}

	s.state = StateReady
	s.log.Info().Dur("heartbeat", interval).Msg("session ready")
	return nil
}

func (s *Session) handleReady(ctx context.Context, in proto.Inbound) error {
	switch in.Op {
	case proto.OpIdentify:
		// HEARTBEAT_ACK; liveness accounting only.
		s.lastAck = time.Now()
		return nil
	case proto.OpDispatch:
		return s.handleChannelMessage(ctx, in)
	case proto.OpHeartbeat:
		return s.handleStatusUpdate(in)
	case proto.OpError:
		s.log.Warn().RawJSON("data", nonEmptyJSON(in.Data)).Msg("client-reported error")
		return nil
	default:
		s.log.Debug().Int("op", int(in.Op)).Msg("invalid opcode")
		return nil
	}
}

// handleChannelMessage validates an op 0 frame and hands it to fanout. The
// checks are ordered, mutually exclusive short-circuits: at most one ERROR
// frame is sent per inbound frame, and the connection stays open.
func (s *Session) handleChannelMessage(ctx context.Context, in proto.Inbound) error {
	var data proto.MessageData
	if len(in.Data) > 0 {
		// A malformed payload body falls through to the missing-channel check.
		_ = json.Unmarshal(in.Data, &data)
	}

	if data.Channel == nil {
		s.sendError(errNoChannel)
		return nil
	}

	ch, err := s.gw.store.GetChannelByID(ctx, *data.Channel)
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(errUnknownChannel)
		return nil
	}
	if err != nil {
		s.log.Error().Err(err).Int64("channel_id", *data.Channel).Msg("channel lookup failed")
		return nil
	}

	member, err := s.gw.store.IsMember(ctx, ch.ID, s.User.ID)
	if err != nil {
		s.log.Error().Err(err).Int64("channel_id", ch.ID).Msg("membership check failed")
		return nil
	}
	if !member {
		s.sendError(errNotInChannel)
		return nil
	}

	if data.Message == "" {
		s.sendError(errEmptyMessage)
		return nil
	}

	msg := proto.MessageInfo{
		ID:        s.gw.NextID(),
		Channel:   channelInfo(ch),
		Content:   data.Message,
		Author:    userInfo(s.User),
		CreatedAt: time.Now().UnixMilli(),
	}
	s.gw.Fanout(ctx, ch, msg, s.User.ID)
	return nil
}

func (s *Session) handleStatusUpdate(in proto.Inbound) error {
	var data proto.StatusData
	if len(in.Data) > 0 {
		_ = json.Unmarshal(in.Data, &data)
	}

	if data.Status == nil || *data.Status < 0 || *data.Status > 4 {
		s.sendError(errInvalidStatus)
		return nil
	}

	// Status is validated only; nothing is persisted.
	s.log.Debug().Int("status", *data.Status).Msg("status update")
	return nil
}

// clampHeartbeat bounds the untrusted client-supplied interval.
func (s *Session) clampHeartbeat(interval time.Duration) time.Duration {
	if interval < s.gw.opts.HeartbeatMin {
		return s.gw.opts.HeartbeatMin
	}
	if interval > s.gw.opts.HeartbeatMax {
		return s.gw.opts.HeartbeatMax
	}
	return interval
}

// startHeartbeat launches the recurring HEARTBEAT push. The schedule stops
// when hbStop is closed; together with the closed check in send this
// guarantees no tick writes to a closed connection.
func (s *Session) startHeartbeat(interval time.Duration) {
	stop := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.hbStop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				err := s.send(proto.Outbound{
					Op:   proto.OpHeartbeat,
					Type: proto.TypeHeartbeat,
				})
				if err != nil {
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

// send serializes all outbound writes for this session. Close holds the
// same lock while marking the session closed, so no write ever targets a
// closed connection.
func (s *Session) send(out proto.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.gw.opts.WriteTimeout)
	defer cancel()
	return s.conn.WriteFrame(ctx, out)
}

func (s *Session) sendError(msg string) {
	err := s.send(proto.Outbound{
		Op:   proto.OpError,
		Type: proto.TypeError,
		Data: proto.ErrorData{Message: msg},
	})
	if err != nil && !errors.Is(err, ErrSessionClosed) {
		s.log.Warn().Err(err).Msg("write error frame")
	}
}

// Close tears the session down exactly once: the heartbeat schedule is
// cancelled, the registry entry is cleared, and the transport is closed.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.hbStop != nil {
			close(s.hbStop)
			s.hbStop = nil
		}
		s.mu.Unlock()

		s.gw.registry.Unbind(s.User.ID, s)
		s.conn.Close(reason)
		s.log.Debug().Str("reason", reason).Msg("session closed")
	})
}

func nonEmptyJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
