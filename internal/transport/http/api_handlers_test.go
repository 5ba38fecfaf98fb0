package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"strconv"
	"testing"
	"time"

	"github.com/Hammer-Institute/boiler/internal/store"
)

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

// authedRequest builds a request with an optional bearer token and JSON body.
func authedRequest(t *testing.T, ctx context.Context, method, url, token string, body any) *stdhttp.Request {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := stdhttp.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func doJSON(t *testing.T, e *testEnv, req *stdhttp.Request, out any) int {
	t.Helper()

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestRegisterAndLogin(t *testing.T) {
	e := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var authResp AuthResponse
	req := authedRequest(t, ctx, "POST", e.ts.URL+"/api/register", "", RegisterRequest{Username: "alice", Password: "password123"})
	if code := doJSON(t, e, req, &authResp); code != 201 {
		t.Fatalf("register status: %d", code)
	}
	if authResp.Token == "" {
		t.Fatal("register returned no token")
	}

	// Duplicate username conflicts.
	req = authedRequest(t, ctx, "POST", e.ts.URL+"/api/register", "", RegisterRequest{Username: "alice", Password: "password123"})
	if code := doJSON(t, e, req, nil); code != 409 {
		t.Fatalf("duplicate register status: %d", code)
	}

	req = authedRequest(t, ctx, "POST", e.ts.URL+"/api/login", "", LoginRequest{Username: "alice", Password: "password123"})
	if code := doJSON(t, e, req, &authResp); code != 200 {
		t.Fatalf("login status: %d", code)
	}

	req = authedRequest(t, ctx, "POST", e.ts.URL+"/api/login", "", LoginRequest{Username: "alice", Password: "nope"})
	if code := doJSON(t, e, req, nil); code != 401 {
		t.Fatalf("bad login status: %d", code)
	}
}

func TestChannelEndpointsRequirePermissions(t *testing.T) {
	e := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user, token := e.createUserToken(t, "alice")

	// A plain user cannot create channels.
	req := authedRequest(t, ctx, "POST", e.ts.URL+"/api/channels", token, CreateChannelRequest{Name: "general"})
	if code := doJSON(t, e, req, nil); code != 403 {
		t.Fatalf("create without permission status: %d", code)
	}

	// Grant MANAGE_CHANNELS and retry.
	user.Permissions = store.PermManageChannels
	if err := e.st.UpdateUser(ctx, user); err != nil {
		t.Fatalf("grant permissions: %v", err)
	}

	var created ChannelResponse
	req = authedRequest(t, ctx, "POST", e.ts.URL+"/api/channels", token, CreateChannelRequest{Name: "general", Description: "the main channel"})
	if code := doJSON(t, e, req, &created); code != 201 {
		t.Fatalf("create with permission status: %d", code)
	}
	if created.Name != "general" || created.OwnerID != user.ID {
		t.Fatalf("unexpected channel: %+v", created)
	}

	// The detail view carries member projections; the owner is a member.
	var detail ChannelDetailResponse
	req = authedRequest(t, ctx, "GET", e.ts.URL+"/api/channels/"+itoa(created.ID), token, nil)
	if code := doJSON(t, e, req, &detail); code != 200 {
		t.Fatalf("get channel status: %d", code)
	}
	if len(detail.Members) != 1 || detail.Members[0].Username != "alice" {
		t.Fatalf("unexpected members: %+v", detail.Members)
	}

	// Another plain user can join themselves but not remove someone else.
	bob, bobToken := e.createUserToken(t, "bobby")
	req = authedRequest(t, ctx, "PUT", e.ts.URL+"/api/channels/"+itoa(created.ID)+"/members/"+itoa(bob.ID), bobToken, nil)
	if code := doJSON(t, e, req, nil); code != 204 {
		t.Fatalf("self join status: %d", code)
	}
	req = authedRequest(t, ctx, "DELETE", e.ts.URL+"/api/channels/"+itoa(created.ID)+"/members/"+itoa(user.ID), bobToken, nil)
	if code := doJSON(t, e, req, nil); code != 403 {
		t.Fatalf("remove other status: %d", code)
	}
}

func TestUpdateProfile(t *testing.T) {
	e := startTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, token := e.createUserToken(t, "alice")

	avatar := "https://example.com/a.png"
	var updated UserResponse
	req := authedRequest(t, ctx, "PATCH", e.ts.URL+"/api/users/me", token, UpdateUserRequest{AvatarURL: &avatar})
	if code := doJSON(t, e, req, &updated); code != 200 {
		t.Fatalf("update status: %d", code)
	}
	if updated.AvatarURL != avatar {
		t.Fatalf("avatar not updated: %+v", updated)
	}

	var me UserResponse
	req = authedRequest(t, ctx, "GET", e.ts.URL+"/api/users/me", token, nil)
	if code := doJSON(t, e, req, &me); code != 200 {
		t.Fatalf("me status: %d", code)
	}
	if me.AvatarURL != avatar {
		t.Fatalf("avatar not persisted: %+v", me)
	}
}

func TestHealthEndpoint(t *testing.T) {
	e := startTestServer(t)

	resp, err := e.ts.Client().Get(e.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}
