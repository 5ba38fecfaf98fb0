package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hammer-Institute/boiler/internal/proto"
	"github.com/Hammer-Institute/boiler/internal/store"
)

// Store is the read-only view of persistent state the gateway needs.
// Mutations happen in the administrative API, never here.
type Store interface {
	GetChannelByID(ctx context.Context, id int64) (*store.Channel, error)
	IsMember(ctx context.Context, channelID, userID int64) (bool, error)
	ListMembers(ctx context.Context, channelID int64) ([]*store.Member, error)
	ListUserChannels(ctx context.Context, userID int64) ([]*store.Channel, error)
}

// Conn abstracts the duplex transport under a session.
type Conn interface {
	// WriteFrame writes a single outbound frame.
	WriteFrame(ctx context.Context, frame proto.Outbound) error
	// Close terminates the transport with a reason string.
	Close(reason string)
}

// SystemUser is the synthetic author of gateway-generated messages.
var SystemUser = proto.UserInfo{ID: 0, Username: "SYSTEM"}

// Options tunes gateway behavior.
type Options struct {
	// HeartbeatMin and HeartbeatMax bound the client-supplied heartbeat
	// interval. The interval arrives in the IDENTIFY payload and is
	// untrusted.
	HeartbeatMin time.Duration
	HeartbeatMax time.Duration
	// WriteTimeout bounds a single outbound frame write.
	WriteTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	out := Options{
		HeartbeatMin: 5 * time.Second,
		HeartbeatMax: 2 * time.Minute,
		WriteTimeout: 10 * time.Second,
	}
	if o == nil {
		return out
	}
	if o.HeartbeatMin > 0 {
		out.HeartbeatMin = o.HeartbeatMin
	}
	if o.HeartbeatMax > 0 {
		out.HeartbeatMax = o.HeartbeatMax
	}
	if o.WriteTimeout > 0 {
		out.WriteTimeout = o.WriteTimeout
	}
	return out
}

// Gateway is the protocol engine: it owns the connection registry, the
// identifier generator, and channel fanout.
type Gateway struct {
	store    Store
	registry *Registry
	ids      *Snowflake
	opts     Options
	log      *zerolog.Logger
}

// New constructs a gateway over the given storage view.
func New(st Store, ids *Snowflake, logger *zerolog.Logger, opts *Options) *Gateway {
	return &Gateway{
		store:    st,
		registry: NewRegistry(),
		ids:      ids,
		opts:     opts.withDefaults(),
		log:      logger,
	}
}

// Registry exposes the connection registry.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Attach binds a freshly authenticated connection and greets it with HELLO.
// Returns ErrAlreadyConnected when the identity already has a live session;
// the caller must then close the new connection silently and leave the
// existing session alone.
func (g *Gateway) Attach(conn Conn, user *store.User) (*Session, error) {
	s := newSession(g, conn, user)

	if err := g.registry.Bind(user.ID, s); err != nil {
		return nil, err
	}

	if err := s.send(proto.Outbound{
		Op:   proto.OpHello,
		Type: proto.TypeHello,
		Data: proto.HelloData{SessionID: s.ID},
	}); err != nil {
		s.Close("hello failed")
		return nil, err
	}

	s.log.Debug().Msg("session attached")
	return s, nil
}

// Fanout delivers msg to every current member of the channel except the
// sender. Members without a live session are skipped. A failed delivery to
// one member is logged and never aborts the remaining deliveries.
func (g *Gateway) Fanout(ctx context.Context, channel *store.Channel, msg proto.MessageInfo, senderID int64) {
	if senderID == 0 {
		// Sender exclusion is part of the contract; a zero sender means the
		// caller forgot to supply it.
		g.log.Error().Int64("channel_id", channel.ID).Msg("fanout invoked without sender")
	}

	members, err := g.store.ListMembers(ctx, channel.ID)
	if err != nil {
		g.log.Error().Err(err).Int64("channel_id", channel.ID).Msg("fanout: list members")
		return
	}

	out := proto.Outbound{
		Op:   proto.OpDispatch,
		Type: proto.TypeMessage,
		Data: msg,
	}

	for _, m := range members {
		if m.UserID == senderID {
			continue
		}
		sess := g.registry.Get(m.UserID)
		if sess == nil {
			continue
		}
		if err := sess.send(out); err != nil {
			g.log.Warn().Err(err).
				Int64("channel_id", channel.ID).
				Int64("user_id", m.UserID).
				Msg("fanout delivery failed")
		}
	}
}

// NextID returns a fresh message identifier.
func (g *Gateway) NextID() int64 {
	return g.ids.Next()
}

func channelInfo(ch *store.Channel) proto.ChannelInfo {
	return proto.ChannelInfo{
		ID:          ch.ID,
		Name:        ch.Name,
		Description: ch.Description,
	}
}

func userInfo(u *store.User) proto.UserInfo {
	return proto.UserInfo{
		ID:          u.ID,
		Username:    u.Username,
		Permissions: uint32(u.Permissions),
	}
}
