package solmate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trymwestin/solmate/internal/core/session"
	"github.com/trymwestin/solmate/internal/core/transport"
	"github.com/trymwestin/solmate/internal/core/wire"
)

// --- test doubles ---

// script answers one request; returning nil closes the connection instead,
// simulating a device that drops the link after accepting a command.
type script func(req wire.Request) *wire.Response

type fakeConn struct {
	script script

	mu      sync.Mutex
	sent    []wire.Request
	inbound chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (c *fakeConn) Send(_ context.Context, text []byte) error {
	var req wire.Request
	if err := json.Unmarshal(text, &req); err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, req)
	c.mu.Unlock()

	resp := c.script(req)
	if resp == nil {
		c.Close(websocket.CloseNormalClosure, "")
		return nil
	}
	resp.ID = req.ID
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	select {
	case c.inbound <- b:
	case <-c.done:
	}
	return nil
}

func (c *fakeConn) Recv(_ context.Context) ([]byte, error) {
	select {
	case b := <-c.inbound:
		return b, nil
	case <-c.done:
		return nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (c *fakeConn) Close(int, string) error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) Ping() error { return nil }

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

type fakeDialer struct {
	script script

	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (transport.Conn, error) {
	conn := &fakeConn{
		script:  d.script,
		inbound: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) requests() []wire.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []wire.Request
	for _, c := range d.conns {
		c.mu.Lock()
		out = append(out, c.sent...)
		c.mu.Unlock()
	}
	return out
}

func (d *fakeDialer) lastRequest(route string) (wire.Request, bool) {
	reqs := d.requests()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Route == route {
			return reqs[i], true
		}
	}
	return wire.Request{}, false
}

type memStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newMemStore() *memStore { return &memStore{tokens: map[string]string{}} }

func (s *memStore) Has(serial string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[serial]
	return ok
}

func (s *memStore) Get(serial string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[serial]
	if !ok {
		return "", fmt.Errorf("no token for %s", serial)
	}
	return t, nil
}

func (s *memStore) Set(serial, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[serial] = token
	return nil
}

func (s *memStore) Delete(serial string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, serial)
	return nil
}

func ok(v any) *wire.Response {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return &wire.Response{Data: b}
}

func reject(msg string) *wire.Response {
	return &wire.Response{Error: &msg}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient returns an authenticated remote client whose protected
// routes are answered by fn.
func newTestClient(t *testing.T, fn script) (*Client, *fakeDialer) {
	t.Helper()

	dialer := &fakeDialer{}
	dialer.script = func(req wire.Request) *wire.Response {
		switch req.Route {
		case "login":
			return ok(map[string]any{"success": true, "signature": "tok"})
		case "authenticate":
			return ok(map[string]any{"redirect": nil})
		default:
			return fn(req)
		}
	}

	sess := session.New(session.Config{SerialNum: "S1K0506"}, dialer, newMemStore(), testLogger())
	client := NewClientWithSession(sess, testLogger())
	if err := client.Quickstart(context.Background(), "pw"); err != nil {
		t.Fatal(err)
	}
	return client, dialer
}

func newTestLocalClient(t *testing.T, fn script) (*LocalClient, *fakeDialer) {
	t.Helper()

	dialer := &fakeDialer{}
	dialer.script = func(req wire.Request) *wire.Response {
		switch req.Route {
		case "login":
			return ok(map[string]any{"success": true, "signature": "tok"})
		case "authenticate":
			return ok(map[string]any{})
		default:
			return fn(req)
		}
	}

	sess := session.New(session.Config{
		SerialNum: "S1K0506",
		URI:       "ws://sun2plug-7ab1:9124",
		Mode:      session.ModeLocal,
	}, dialer, newMemStore(), testLogger())
	client := NewLocalClientWithSession(sess, testLogger())
	if err := client.Quickstart(context.Background(), "pw"); err != nil {
		t.Fatal(err)
	}
	return client, dialer
}

// --- tests ---

func TestGetLiveValues(t *testing.T) {
	client, _ := newTestClient(t, func(req wire.Request) *wire.Response {
		if req.Route != "live_values" {
			return reject("unexpected route " + req.Route)
		}
		return ok(map[string]any{"pv_power": 823.5, "battery_state": 61.0})
	})
	defer client.Close()

	vals, err := client.GetLiveValues(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if pv, _ := vals.PVPower(); pv != 823.5 {
		t.Errorf("pv_power = %v, want 823.5", pv)
	}
}

func TestGetLiveValuesRetriesOneHiccup(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, func(req wire.Request) *wire.Response {
		attempts++
		if attempts == 1 {
			return reject("spurious")
		}
		return ok(map[string]any{"pv_power": 1.0})
	})
	defer client.Close()

	vals, err := client.GetLiveValues(context.Background())
	if err != nil {
		t.Fatalf("hiccup not absorbed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if pv, _ := vals.PVPower(); pv != 1.0 {
		t.Errorf("pv_power = %v", pv)
	}
}

func TestCheckOnline(t *testing.T) {
	client, dialer := newTestClient(t, func(req wire.Request) *wire.Response {
		return ok(map[string]any{"online": true})
	})
	defer client.Close()

	online, err := client.CheckOnline(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !online {
		t.Error("online = false")
	}

	req, found := dialer.lastRequest("check_online")
	if !found {
		t.Fatal("check_online never sent")
	}
	data, _ := req.Data.(map[string]any)
	if data["serial_num"] != "S1K0506" {
		t.Errorf("serial_num = %v", data["serial_num"])
	}
}

func TestGetRecentLogsEncodesTimeframes(t *testing.T) {
	client, dialer := newTestClient(t, func(req wire.Request) *wire.Response {
		return ok(map[string]any{"logs": []any{}})
	})
	defer client.Close()

	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	if _, err := client.GetRecentLogs(context.Background(), 2, start); err != nil {
		t.Fatal(err)
	}

	req, found := dialer.lastRequest("logs")
	if !found {
		t.Fatal("logs never sent")
	}
	data, _ := req.Data.(map[string]any)
	frames, _ := data["timeframes"].([]any)
	if len(frames) != 1 {
		t.Fatalf("timeframes = %v", data["timeframes"])
	}
	frame, _ := frames[0].(map[string]any)
	if got := frame["start"]; got != "2024-03-10T12:00:00" {
		t.Errorf("start = %v, want 2024-03-10T12:00:00", got)
	}
	if got := frame["end"]; got != "2024-03-12T12:00:00" {
		t.Errorf("end = %v, want 2024-03-12T12:00:00", got)
	}
	if got := frame["resolution"]; got != float64(4) {
		t.Errorf("resolution = %v, want 4", got)
	}
}

func TestSetInjectionProfilesTimestamp(t *testing.T) {
	client, dialer := newTestClient(t, func(req wire.Request) *wire.Response {
		return ok(map[string]any{"success": true})
	})
	defer client.Close()

	profiles := map[string]InjectionProfile{
		"evening boost": {Min: make([]float64, 24), Max: make([]float64, 24)},
	}
	ts := time.Date(2024, 3, 10, 12, 0, 0, 500000000, time.UTC)
	if _, err := client.SetInjectionProfiles(context.Background(), profiles, ts); err != nil {
		t.Fatal(err)
	}

	req, found := dialer.lastRequest("set_injection_profiles")
	if !found {
		t.Fatal("set_injection_profiles never sent")
	}
	data, _ := req.Data.(map[string]any)
	if got := data["timestamp"]; got != "2024-03-10T12:00:00.500000Z" {
		t.Errorf("timestamp = %v, want 2024-03-10T12:00:00.500000Z", got)
	}
}

func TestGetInjectionProfilesUnsupportedFirmware(t *testing.T) {
	rejections := 0
	client, _ := newTestClient(t, func(req wire.Request) *wire.Response {
		rejections++
		return reject("unknown route")
	})
	defer client.Close()

	profiles, err := client.GetInjectionProfiles(context.Background())
	if err != nil {
		t.Fatalf("unsupported route surfaced as error: %v", err)
	}
	if profiles != nil {
		t.Errorf("profiles = %v, want nil", profiles)
	}
	if rejections != 2 {
		t.Errorf("probe attempts = %d, want 2", rejections)
	}
}

func TestSetInjectionWrappersSendPower(t *testing.T) {
	client, dialer := newTestClient(t, func(req wire.Request) *wire.Response {
		return ok(map[string]any{})
	})
	defer client.Close()

	if _, err := client.SetMaxInjection(context.Background(), 500); err != nil {
		t.Fatal(err)
	}
	req, _ := dialer.lastRequest("set_user_maximum_injection")
	data, _ := req.Data.(map[string]any)
	if data["injection"] != float64(500) {
		t.Errorf("injection = %v, want 500", data["injection"])
	}

	if _, err := client.SetMinBatteryPercentage(context.Background(), 20); err != nil {
		t.Fatal(err)
	}
	req, _ = dialer.lastRequest("set_user_minimum_battery_percentage")
	data, _ = req.Data.(map[string]any)
	if data["battery_percentage"] != float64(20) {
		t.Errorf("battery_percentage = %v, want 20", data["battery_percentage"])
	}
}

func TestListWifis(t *testing.T) {
	client, _ := newTestLocalClient(t, func(req wire.Request) *wire.Response {
		return ok([]string{"HomeNet", "Garage"})
	})
	defer client.Close()

	ssids, err := client.ListWifis(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ssids) != 2 || ssids[0] != "HomeNet" {
		t.Errorf("ssids = %v", ssids)
	}
}

func TestConnectToWifiClosedOnPurpose(t *testing.T) {
	client, _ := newTestLocalClient(t, func(req wire.Request) *wire.Response {
		if req.Route == "connect_to_wifi" {
			return nil // device drops the connection instead of answering
		}
		return ok(map[string]any{})
	})

	err := client.ConnectToWifi(context.Background(), "HomeNet", "wifi-pass")
	if !errors.Is(err, ErrConnectionClosedOnPurpose) {
		t.Fatalf("got %v, want ErrConnectionClosedOnPurpose", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("purposeful closure reported as timeout")
	}
}

func TestLocalCheckOnlineIsConnectedCheck(t *testing.T) {
	client, dialer := newTestLocalClient(t, func(req wire.Request) *wire.Response {
		return ok(map[string]any{})
	})

	before := len(dialer.requests())
	online, err := client.CheckOnline(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !online {
		t.Error("connected local client reported offline")
	}
	if got := len(dialer.requests()); got != before {
		t.Errorf("local CheckOnline issued %d wire calls, want 0", got-before)
	}

	client.Close()
	if online, _ := client.CheckOnline(context.Background()); online {
		t.Error("closed local client reported online")
	}
}

func TestUnknownRouteSurfacesBadRequest(t *testing.T) {
	client, _ := newTestClient(t, func(req wire.Request) *wire.Response {
		return reject("no such route: " + req.Route)
	})
	defer client.Close()

	_, err := client.Call(context.Background(), "does_not_exist", map[string]any{})
	if !IsBadRequest(err) {
		t.Fatalf("got %v, want bad request", err)
	}
	if !strings.Contains(err.Error(), "does_not_exist") {
		t.Errorf("error %q does not name the route", err)
	}
}
