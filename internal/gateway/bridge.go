package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hammer-Institute/boiler/internal/proto"
)

// EventKind classifies an administrative mutation signal.
type EventKind int

const (
	// EventChannelJoin fires when the administrative API adds a user to a
	// channel.
	EventChannelJoin EventKind = iota
	// EventChannelLeave fires when the administrative API removes a user
	// from a channel.
	EventChannelLeave
	// EventUserUpdate fires when a user's profile is mutated.
	EventUserUpdate
)

// Event is an out-of-band mutation emitted by the administrative API.
type Event struct {
	Kind      EventKind
	UserID    int64
	ChannelID int64
}

// Bridge converts administrative mutation events into real-time pushes on
// the affected identity's live session. Delivery is fire-and-forget,
// at-most-once: events for identities with no live session are dropped, and
// nothing is queued for later.
type Bridge struct {
	gw     *Gateway
	events chan Event
	log    *zerolog.Logger
}

// NewBridge creates a bridge with a buffered event queue.
func NewBridge(gw *Gateway, logger *zerolog.Logger) *Bridge {
	return &Bridge{
		gw:     gw,
		events: make(chan Event, 64),
		log:    logger,
	}
}

// Publish enqueues an event without blocking the caller. A full queue drops
// the event; the contract is at-most-once.
func (b *Bridge) Publish(ev Event) {
	select {
	case b.events <- ev:
	default:
		b.log.Warn().Int("kind", int(ev.Kind)).Int64("user_id", ev.UserID).Msg("bridge queue full, event dropped")
	}
}

// Run consumes events until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case ev := <-b.events:
			b.dispatch(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) dispatch(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventChannelJoin:
		b.handleChannelJoin(ctx, ev)
	case EventChannelLeave:
		b.handleChannelLeave(ctx, ev)
	case EventUserUpdate:
		b.handleUserUpdate(ctx, ev)
	default:
		b.log.Warn().Int("kind", int(ev.Kind)).Msg("unknown bridge event")
	}
}

// handleChannelJoin pushes a CHANNEL_JOIN notice plus a synthetic system
// message to the joining identity's own session only; existing members are
// not notified.
func (b *Bridge) handleChannelJoin(ctx context.Context, ev Event) {
	sess := b.gw.registry.Get(ev.UserID)
	if sess == nil {
		return
	}

	ch, err := b.gw.store.GetChannelByID(ctx, ev.ChannelID)
	if err != nil {
		b.log.Error().Err(err).Int64("channel_id", ev.ChannelID).Msg("bridge: channel lookup")
		return
	}
	info := channelInfo(ch)

	if err := sess.send(proto.Outbound{
		Op:   proto.OpDispatch,
		Type: proto.TypeChannelJoin,
		Data: proto.ChannelNoticeData{Channel: info},
	}); err != nil {
		b.log.Warn().Err(err).Int64("user_id", ev.UserID).Msg("bridge: push join notice")
		return
	}

	system := proto.MessageInfo{
		ID:        b.gw.NextID(),
		Channel:   info,
		Content:   fmt.Sprintf("%s has joined the channel!", sess.User.Username),
		Author:    SystemUser,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := sess.send(proto.Outbound{
		Op:   proto.OpDispatch,
		Type: proto.TypeMessage,
		Data: system,
	}); err != nil {
		b.log.Warn().Err(err).Int64("user_id", ev.UserID).Msg("bridge: push system message")
	}
}

// handleChannelLeave pushes a CHANNEL_LEAVE notice to the leaving
// identity's own session.
func (b *Bridge) handleChannelLeave(ctx context.Context, ev Event) {
	sess := b.gw.registry.Get(ev.UserID)
	if sess == nil {
		return
	}

	ch, err := b.gw.store.GetChannelByID(ctx, ev.ChannelID)
	if err != nil {
		b.log.Error().Err(err).Int64("channel_id", ev.ChannelID).Msg("bridge: channel lookup")
		return
	}

	if err := sess.send(proto.Outbound{
		Op:   proto.OpDispatch,
		Type: proto.TypeChannelLeave,
		Data: proto.ChannelNoticeData{Channel: channelInfo(ch)},
	}); err != nil {
		b.log.Warn().Err(err).Int64("user_id", ev.UserID).Msg("bridge: push leave notice")
	}
}

// handleUserUpdate enumerates the affected channels for downstream use. No
// push is defined for profile updates yet.
func (b *Bridge) handleUserUpdate(ctx context.Context, ev Event) {
	channels, err := b.gw.store.ListUserChannels(ctx, ev.UserID)
	if err != nil {
		b.log.Error().Err(err).Int64("user_id", ev.UserID).Msg("bridge: list user channels")
		return
	}
	b.log.Debug().Int64("user_id", ev.UserID).Int("channels", len(channels)).Msg("user updated")
}
