package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Hammer-Institute/boiler/internal/proto"
	"github.com/Hammer-Institute/boiler/internal/store"
)

// fakeConn records outbound frames in memory.
type fakeConn struct {
	mu         sync.Mutex
	frames     []proto.Outbound
	closed     bool
	reason     string
	failWrites bool
}

func (c *fakeConn) WriteFrame(_ context.Context, frame proto.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errors.New("broken pipe")
	}
	if c.closed {
		return errors.New("write on closed conn")
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.reason = reason
}

func (c *fakeConn) take() []proto.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]proto.Outbound, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) countOp(op proto.Op) int {
	n := 0
	for _, f := range c.take() {
		if f.Op == op {
			n++
		}
	}
	return n
}

// fakeStore is an in-memory gateway.Store.
type fakeStore struct {
	mu       sync.Mutex
	channels map[int64]*store.Channel
	members  map[int64]map[int64]time.Time
	users    map[int64]*store.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		channels: make(map[int64]*store.Channel),
		members:  make(map[int64]map[int64]time.Time),
		users:    make(map[int64]*store.User),
	}
}

func (f *fakeStore) addChannel(id int64, name string) *store.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := &store.Channel{ID: id, Name: name, CreatedAt: time.Now()}
	f.channels[id] = ch
	f.members[id] = make(map[int64]time.Time)
	return ch
}

func (f *fakeStore) addMember(channelID int64, u *store.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	f.members[channelID][u.ID] = time.Now()
}

func (f *fakeStore) GetChannelByID(_ context.Context, id int64) (*store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return ch, nil
}

func (f *fakeStore) IsMember(_ context.Context, channelID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.members[channelID]
	if !ok {
		return false, nil
	}
	_, ok = members[userID]
	return ok, nil
}

func (f *fakeStore) ListMembers(_ context.Context, channelID int64) ([]*store.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Member
	for uid, joined := range f.members[channelID] {
		u := f.users[uid]
		out = append(out, &store.Member{
			UserID:   uid,
			Username: u.Username,
			JoinedAt: joined,
		})
	}
	return out, nil
}

func (f *fakeStore) ListUserChannels(_ context.Context, userID int64) ([]*store.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Channel
	for chID, members := range f.members {
		if _, ok := members[userID]; ok {
			out = append(out, f.channels[chID])
		}
	}
	return out, nil
}

func newTestGateway(st Store) *Gateway {
	logger := zerolog.Nop()
	// The wide max keeps the 30s test IDENTIFY interval unclamped, so
	// heartbeat ticks never interleave with frame assertions.
	return New(st, NewSnowflake(1), &logger, &Options{
		HeartbeatMin: 20 * time.Millisecond,
		HeartbeatMax: time.Minute,
		WriteTimeout: time.Second,
	})
}

func testUser(id int64, name string) *store.User {
	return &store.User{ID: id, Username: name}
}

// attach binds a ready-to-use session, discarding the HELLO frame.
func attach(t *testing.T, gw *Gateway, user *store.User) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	sess, err := gw.Attach(conn, user)
	if err != nil {
		t.Fatalf("attach %s: %v", user.Username, err)
	}
	return sess, conn
}

// identify completes the handshake for a session.
func identify(t *testing.T, sess *Session) {
	t.Helper()
	if err := sess.Handle(context.Background(), frame(proto.OpIdentify, proto.TypeIdentify, proto.IdentifyData{HeartbeatInterval: 30000})); err != nil {
		t.Fatalf("identify: %v", err)
	}
	if sess.State() != StateReady {
		t.Fatalf("expected READY state, got %v", sess.State())
	}
}

func frame(op proto.Op, typ string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	raw, err := json.Marshal(proto.Inbound{Op: op, Type: typ, Data: payload})
	if err != nil {
		panic(err)
	}
	return raw
}

func errorMessage(t *testing.T, f proto.Outbound) string {
	t.Helper()
	data, ok := f.Data.(proto.ErrorData)
	if !ok {
		t.Fatalf("frame data is %T, not ErrorData", f.Data)
	}
	return data.Message
}
