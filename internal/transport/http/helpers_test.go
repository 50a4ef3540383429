package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/dmchat-server/internal/auth"
	"github.com/vovakirdan/dmchat-server/internal/config"
	"github.com/vovakirdan/dmchat-server/internal/core"
	"github.com/vovakirdan/dmchat-server/internal/delivery"
	"github.com/vovakirdan/dmchat-server/internal/proto"
	"github.com/vovakirdan/dmchat-server/internal/store"
	"github.com/vovakirdan/dmchat-server/internal/store/sqlite"
)

type testEnv struct {
	ts    *httptest.Server
	store store.Store
	auth  *auth.Service
	hub   *core.Hub
	cfg   config.Config
}

func startTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.UploadDir = t.TempDir()
	cfg.JWTSecret = "test-secret"
	if mutate != nil {
		mutate(&cfg)
	}

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})

	disabledLogger := zerolog.Nop()
	hub := core.NewHub(core.NewPresenceTable(), st, &disabledLogger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	coord := delivery.NewCoordinator(st, hub, delivery.WithStoreTimeout(cfg.StoreTimeout))
	server := NewServer(hub, coord, authService, st, &cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: st, auth: authService, hub: hub, cfg: cfg}
}

// register creates a user and returns its id and token.
func (e *testEnv) register(t *testing.T, username string) (string, string) {
	t.Helper()

	user, token, err := e.auth.Register(context.Background(), username, username+"@example.com", "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return user.ID, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *stdhttp.Response {
	t.Helper()

	var r io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(payload)
	}
	req, err := stdhttp.NewRequest(method, e.ts.URL+path, r)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *stdhttp.Response) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *stdhttp.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

// wsClient is a test connection that reads typed envelopes.
type wsClient struct {
	t    *testing.T
	ctx  context.Context
	conn *websocket.Conn
}

type rawOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func (e *testEnv) dial(t *testing.T) *wsClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return &wsClient{t: t, ctx: ctx, conn: conn}
}

func (c *wsClient) send(typ string, data any) {
	c.t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	if err := wsjson.Write(c.ctx, c.conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		c.t.Fatalf("write %s: %v", typ, err)
	}
}

func (c *wsClient) read() rawOutbound {
	c.t.Helper()

	var out rawOutbound
	if err := wsjson.Read(c.ctx, c.conn, &out); err != nil {
		c.t.Fatalf("read outbound: %v", err)
	}
	return out
}

// waitEvent reads until an event with the given name arrives.
func (c *wsClient) waitEvent(name string) rawOutbound {
	c.t.Helper()
	for {
		out := c.read()
		if out.Type == proto.OutboundTypeEvent && out.Event == name {
			return out
		}
	}
}

// waitError reads until an error envelope arrives.
func (c *wsClient) waitError() *proto.Error {
	c.t.Helper()
	for {
		out := c.read()
		if out.Type == proto.OutboundTypeError {
			return out.Error
		}
	}
}

func (c *wsClient) identify(token string) {
	c.t.Helper()
	c.send(proto.InboundTypeIdentify, proto.IdentifyData{Token: token})
	c.waitEvent(proto.EventIdentified)
}
