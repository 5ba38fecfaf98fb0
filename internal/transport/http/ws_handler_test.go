package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/Hammer-Institute/boiler/internal/auth"
	"github.com/Hammer-Institute/boiler/internal/config"
	"github.com/Hammer-Institute/boiler/internal/gateway"
	"github.com/Hammer-Institute/boiler/internal/proto"
	"github.com/Hammer-Institute/boiler/internal/store"
	"github.com/Hammer-Institute/boiler/internal/store/sqlite"
)

type testEnv struct {
	ts      *httptest.Server
	st      store.Store
	authSvc *auth.Service
	bridge  *gateway.Bridge
}

func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	jwtConfig := &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}
	authSvc := auth.NewService(st, jwtConfig)

	gw := gateway.New(st, gateway.NewSnowflake(1), &logger, nil)
	bridge := gateway.NewBridge(gw, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go bridge.Run(ctx)

	cfg := config.Default()
	server := NewServer(gw, bridge, authSvc, st, cfg, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, st: st, authSvc: authSvc, bridge: bridge}
}

// createUserToken registers a user directly in the store and mints a token.
func (e *testEnv) createUserToken(t *testing.T, name string) (*store.User, string) {
	t.Helper()

	token, err := e.authSvc.Register(context.Background(), name, "password123")
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	user, err := e.st.GetUserByUsername(context.Background(), name)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return user, token
}

func (e *testEnv) gatewayURL(token string) string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/gateway?token=" + token
}

func dialGateway(t *testing.T, ctx context.Context, e *testEnv, token string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, e.gatewayURL(token), nil)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

type envelope struct {
	Op   proto.Op        `json:"op"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) envelope {
	t.Helper()

	var env envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return env
}

func sendIdentify(t *testing.T, ctx context.Context, conn *websocket.Conn) {
	t.Helper()

	payload, _ := json.Marshal(proto.IdentifyData{HeartbeatInterval: 30000})
	if err := wsjson.Write(ctx, conn, proto.Inbound{Op: proto.OpIdentify, Type: proto.TypeIdentify, Data: payload}); err != nil {
		t.Fatalf("send identify: %v", err)
	}
}

func TestGatewayRejectsMissingToken(t *testing.T) {
	e := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, strings.Replace(e.ts.URL, "http", "ws", 1)+"/gateway", nil)
	if err == nil {
		t.Fatal("expected dial failure without token")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestGatewayHandshakeAndFanout(t *testing.T) {
	e := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice, aliceToken := e.createUserToken(t, "alice")
	bob, bobToken := e.createUserToken(t, "bobby")

	ch, err := e.st.CreateChannel(ctx, "general", "", alice.ID)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if err := e.st.AddMember(ctx, ch.ID, bob.ID); err != nil {
		t.Fatalf("add bob: %v", err)
	}

	aliceConn := dialGateway(t, ctx, e, aliceToken)
	bobConn := dialGateway(t, ctx, e, bobToken)

	if env := readFrame(t, ctx, aliceConn); env.Op != proto.OpHello {
		t.Fatalf("expected HELLO, got %+v", env)
	}
	if env := readFrame(t, ctx, bobConn); env.Op != proto.OpHello {
		t.Fatalf("expected HELLO, got %+v", env)
	}

	sendIdentify(t, ctx, aliceConn)
	sendIdentify(t, ctx, bobConn)

	ready := readFrame(t, ctx, aliceConn)
	if ready.Op != proto.OpReady {
		t.Fatalf("expected READY, got %+v", ready)
	}
	var readyData proto.ReadyData
	if err := json.Unmarshal(ready.Data, &readyData); err != nil {
		t.Fatalf("unmarshal READY: %v", err)
	}
	if readyData.User.Username != "alice" || len(readyData.Channels) != 1 {
		t.Fatalf("unexpected READY payload: %+v", readyData)
	}
	if env := readFrame(t, ctx, bobConn); env.Op != proto.OpReady {
		t.Fatalf("expected READY for bob, got %+v", env)
	}

	// Alice sends; bob receives; alice does not see her own message.
	msgPayload, _ := json.Marshal(map[string]any{"channel": ch.ID, "message": "hi there"})
	if err := wsjson.Write(ctx, aliceConn, proto.Inbound{Op: proto.OpDispatch, Type: proto.TypeMessage, Data: msgPayload}); err != nil {
		t.Fatalf("send message: %v", err)
	}

	env := readFrame(t, ctx, bobConn)
	if env.Op != proto.OpDispatch || env.Type != proto.TypeMessage {
		t.Fatalf("expected MESSAGE, got %+v", env)
	}
	var msg proto.MessageInfo
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if msg.Content != "hi there" || msg.Author.Username != "alice" || msg.ID == 0 {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestGatewayValidationErrorKeepsConnectionOpen(t *testing.T) {
	e := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, token := e.createUserToken(t, "alice")
	conn := dialGateway(t, ctx, e, token)

	readFrame(t, ctx, conn) // HELLO
	sendIdentify(t, ctx, conn)
	readFrame(t, ctx, conn) // READY

	// Message without a channel: exactly one ERROR, connection stays open.
	payload, _ := json.Marshal(map[string]any{"message": "hi"})
	if err := wsjson.Write(ctx, conn, proto.Inbound{Op: proto.OpDispatch, Type: proto.TypeMessage, Data: payload}); err != nil {
		t.Fatalf("send: %v", err)
	}

	env := readFrame(t, ctx, conn)
	if env.Op != proto.OpError {
		t.Fatalf("expected ERROR, got %+v", env)
	}
	var errData proto.ErrorData
	if err := json.Unmarshal(env.Data, &errData); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if errData.Message != "You've sent a message without a channel!" {
		t.Fatalf("unexpected error message %q", errData.Message)
	}

	// Still usable: an out-of-range status gets its own single ERROR.
	statusPayload, _ := json.Marshal(map[string]any{"status": 7})
	if err := wsjson.Write(ctx, conn, proto.Inbound{Op: proto.OpHeartbeat, Type: proto.TypeStatusUpdate, Data: statusPayload}); err != nil {
		t.Fatalf("send status: %v", err)
	}
	env = readFrame(t, ctx, conn)
	if env.Op != proto.OpError {
		t.Fatalf("expected ERROR, got %+v", env)
	}
	if err := json.Unmarshal(env.Data, &errData); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if errData.Message != "Invalid status!" {
		t.Fatalf("unexpected error message %q", errData.Message)
	}
}

func TestGatewayInvalidJSONCloses(t *testing.T) {
	e := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, token := e.createUserToken(t, "alice")
	conn := dialGateway(t, ctx, e, token)
	readFrame(t, ctx, conn) // HELLO

	if err := conn.Write(ctx, websocket.MessageText, []byte("{broken")); err != nil {
		t.Fatalf("write: %v", err)
	}

	env := readFrame(t, ctx, conn)
	if env.Op != proto.OpError {
		t.Fatalf("expected ERROR frame, got %+v", env)
	}

	// The connection is closed after the diagnostic.
	var discard envelope
	if err := wsjson.Read(ctx, conn, &discard); err == nil {
		t.Fatal("expected closed connection, read succeeded")
	}
}

func TestGatewayDuplicateIdentityClosed(t *testing.T) {
	e := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, token := e.createUserToken(t, "alice")

	first := dialGateway(t, ctx, e, token)
	readFrame(t, ctx, first) // HELLO

	second := dialGateway(t, ctx, e, token)

	// The duplicate is closed with no frames; the read fails.
	var discard envelope
	if err := wsjson.Read(ctx, second, &discard); err == nil {
		t.Fatalf("expected duplicate connection to be closed, got frame %+v", discard)
	}

	// The original is unaffected.
	sendIdentify(t, ctx, first)
	if env := readFrame(t, ctx, first); env.Op != proto.OpReady {
		t.Fatalf("original connection broken by duplicate: %+v", env)
	}
}

func TestRESTJoinPushesNotice(t *testing.T) {
	e := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice, _ := e.createUserToken(t, "alice")
	bob, bobToken := e.createUserToken(t, "bobby")

	ch, err := e.st.CreateChannel(ctx, "general", "", alice.ID)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}

	bobConn := dialGateway(t, ctx, e, bobToken)
	readFrame(t, ctx, bobConn) // HELLO
	sendIdentify(t, ctx, bobConn)
	readFrame(t, ctx, bobConn) // READY

	// Bob joins via the REST API; his live connection gets the push.
	req := authedRequest(t, ctx, "PUT", e.ts.URL+"/api/channels/"+itoa(ch.ID)+"/members/"+itoa(bob.ID), bobToken, nil)
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("join request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 204 {
		t.Fatalf("join status: %d", resp.StatusCode)
	}

	notice := readFrame(t, ctx, bobConn)
	if notice.Op != proto.OpDispatch || notice.Type != proto.TypeChannelJoin {
		t.Fatalf("expected CHANNEL_JOIN, got %+v", notice)
	}

	system := readFrame(t, ctx, bobConn)
	if system.Op != proto.OpDispatch || system.Type != proto.TypeMessage {
		t.Fatalf("expected system MESSAGE, got %+v", system)
	}
	var msg proto.MessageInfo
	if err := json.Unmarshal(system.Data, &msg); err != nil {
		t.Fatalf("unmarshal system message: %v", err)
	}
	if msg.Author.Username != "SYSTEM" || !strings.Contains(msg.Content, "has joined the channel!") {
		t.Fatalf("unexpected system message: %+v", msg)
	}
}
