package solmate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/trymwestin/solmate/internal/core/authstore"
	"github.com/trymwestin/solmate/internal/core/mux"
	"github.com/trymwestin/solmate/internal/core/retry"
	"github.com/trymwestin/solmate/internal/core/session"
	"github.com/trymwestin/solmate/internal/core/state"
	"github.com/trymwestin/solmate/internal/core/transport"
	"github.com/trymwestin/solmate/internal/core/wire"
)

// Config configures a client.
type Config struct {
	// SerialNum identifies the SolMate, e.g. "S1K0506...00X". Required.
	SerialNum string
	// URI is the endpoint to dial. Defaults to DefaultURI for remote
	// clients; local clients must set it to the device's address, e.g.
	// "ws://sun2plug-xxxx:9124".
	URI string
	// DeviceID overrides the access mode's device identifier.
	DeviceID string
	// Timeout is the per-request deadline. Defaults to 30s.
	Timeout time.Duration
	// AuthstorePath is the token cache file. Defaults to
	// ~/.solmate/authstore.json (remote) or authstore-local.json (local);
	// the two modes never share a file because their tokens differ.
	AuthstorePath string
}

// Client talks to a SolMate through the public Sol endpoint.
//
// Usage:
//
//	client := solmate.NewClient(solmate.Config{SerialNum: "S1K0506...00X"}, log)
//	if err := client.Quickstart(ctx, password); err != nil { ... }
//	vals, err := client.GetLiveValues(ctx)
type Client struct {
	sess *session.Session
	log  *slog.Logger
}

// NewClient creates a remote-mode client.
func NewClient(cfg Config, log *slog.Logger) *Client {
	return &Client{
		sess: newSession(cfg, session.ModeRemote, transport.NewRemoteDialer(log), log),
		log:  log,
	}
}

func newSession(cfg Config, mode session.Mode, dialer transport.Dialer, log *slog.Logger) *session.Session {
	store := authstore.NewFileStore(authstorePath(cfg.AuthstorePath, mode))
	return session.New(session.Config{
		SerialNum: cfg.SerialNum,
		URI:       cfg.URI,
		Mode:      mode,
		DeviceID:  cfg.DeviceID,
		Timeout:   cfg.Timeout,
	}, dialer, store, log)
}

func authstorePath(override string, mode session.Mode) string {
	if override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	name := "authstore.json"
	if mode == session.ModeLocal {
		name = "authstore-local.json"
	}
	return filepath.Join(home, ".solmate", name)
}

// NewClientWithSession wraps an existing session, letting callers inject
// their own dialer and token store.
func NewClientWithSession(sess *session.Session, log *slog.Logger) *Client {
	return &Client{sess: sess, log: log}
}

// Session exposes the underlying session for advanced flows (explicit
// connect/login/authenticate sequencing after a redirect, for example).
func (c *Client) Session() *session.Session {
	return c.sess
}

// Quickstart connects, logs in (or reuses the cached token), follows a
// redirect if the load balancer issues one, and authenticates. password may
// be empty when a token is already cached for this serial number.
func (c *Client) Quickstart(ctx context.Context, password string) error {
	return c.sess.Quickstart(ctx, password)
}

// Connect opens a fresh connection to the current endpoint.
func (c *Client) Connect(ctx context.Context) error {
	return c.sess.Connect(ctx)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.sess.Close()
}

// SerialNum returns the serial number this client targets.
func (c *Client) SerialNum() string {
	return c.sess.SerialNum()
}

// Call issues a raw request; the typed wrappers below cover the known
// routes.
func (c *Client) Call(ctx context.Context, route string, data any) (json.RawMessage, error) {
	return c.sess.Call(ctx, route, data)
}

// GetLiveValues returns the current live values (pv power, battery state,
// injection). A single remote-side hiccup is retried once after a second
// before the error surfaces.
func (c *Client) GetLiveValues(ctx context.Context) (state.LiveValues, error) {
	var raw json.RawMessage
	err := retry.Do(ctx, 2, time.Second, mux.IsBadRequest, func() error {
		var callErr error
		raw, callErr = c.sess.Call(ctx, "live_values", map[string]any{})
		return callErr
	})
	if err != nil {
		return nil, err
	}
	vals, err := state.DecodeLiveValues(raw)
	if err != nil {
		return nil, fmt.Errorf("solmate: live values: decode: %w", err)
	}
	return vals, nil
}

// CheckOnline reports whether the SolMate is currently online.
func (c *Client) CheckOnline(ctx context.Context) (bool, error) {
	raw, err := c.sess.Call(ctx, "check_online", map[string]any{"serial_num": c.sess.SerialNum()})
	if err != nil {
		return false, err
	}
	var reply struct {
		Online bool `json:"online"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return false, fmt.Errorf("solmate: check online: decode: %w", err)
	}
	return reply.Online, nil
}

// GetSoftwareVersion returns the installed software version info.
func (c *Client) GetSoftwareVersion(ctx context.Context) (json.RawMessage, error) {
	return c.sess.Call(ctx, "get_solmate_info", map[string]any{})
}

// GetRecentLogs returns server-side logs for a window of days days starting
// at start. days defaults to 1 when non-positive; start defaults to days
// days ago.
func (c *Client) GetRecentLogs(ctx context.Context, days int, start time.Time) (json.RawMessage, error) {
	if days <= 0 {
		days = 1
	}
	if start.IsZero() {
		start = time.Now().AddDate(0, 0, -days)
	}
	end := start.AddDate(0, 0, days)

	return c.sess.Call(ctx, "logs", map[string]any{
		"timeframes": []map[string]any{
			{
				"start":      wire.Timestamp(start),
				"end":        wire.Timestamp(end),
				"resolution": 4,
			},
		},
	})
}

// GetMilestonesSavings returns the latest milestones savings over the given
// number of days (default 1).
func (c *Client) GetMilestonesSavings(ctx context.Context, days int) (json.RawMessage, error) {
	if days <= 0 {
		days = 1
	}
	return c.sess.Call(ctx, "milestones_savings", map[string]any{"days": days})
}

// GetUserSettings returns the currently valid user settings.
func (c *Client) GetUserSettings(ctx context.Context) (json.RawMessage, error) {
	return c.sess.Call(ctx, "get_user_settings", map[string]any{})
}

// GetInjectionSettings returns the injection settings.
func (c *Client) GetInjectionSettings(ctx context.Context) (json.RawMessage, error) {
	return c.sess.Call(ctx, "get_injection_settings", map[string]any{})
}

// GetGridMode returns the grid mode, i.e. off-grid ("island") or on-grid.
func (c *Client) GetGridMode(ctx context.Context) (json.RawMessage, error) {
	return c.sess.Call(ctx, "get_grid_mode", map[string]any{})
}

// SetMaxInjection sets the user-defined maximum injection power, applied
// when the battery allows it.
func (c *Client) SetMaxInjection(ctx context.Context, maximumPower float64) (json.RawMessage, error) {
	return c.sess.Call(ctx, "set_user_maximum_injection", map[string]any{"injection": maximumPower})
}

// SetMinInjection sets the user-defined minimum injection power, applied
// when the battery allows it.
func (c *Client) SetMinInjection(ctx context.Context, minimumPower float64) (json.RawMessage, error) {
	return c.sess.Call(ctx, "set_user_minimum_injection", map[string]any{"injection": minimumPower})
}

// SetMinBatteryPercentage sets the user-defined minimum battery percentage.
func (c *Client) SetMinBatteryPercentage(ctx context.Context, minimumPercentage float64) (json.RawMessage, error) {
	return c.sess.Call(ctx, "set_user_minimum_battery_percentage", map[string]any{"battery_percentage": minimumPercentage})
}

// SetAPMode opens the device's local access point and leaves client mode.
// Online availability remains if the SolMate also has a wired connection.
func (c *Client) SetAPMode(ctx context.Context) (json.RawMessage, error) {
	return c.sess.Call(ctx, "revert_to_ap", map[string]any{})
}

// InjectionProfile is one named profile: 24 hourly minimum and maximum
// injection fractions.
type InjectionProfile struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

// GetInjectionProfiles returns the profiles stored on the device. The route
// is optional: firmware that lacks it yields an Unsupported result rather
// than an error.
func (c *Client) GetInjectionProfiles(ctx context.Context) (map[string]InjectionProfile, error) {
	res, err := retry.ProbeUnsupported(ctx, func() ([]byte, error) {
		return c.sess.Call(ctx, "get_injection_profiles", map[string]any{})
	})
	if err != nil {
		return nil, err
	}
	if res.Unsupported {
		c.log.Info("injection profiles not supported by this firmware", "serial_num", c.sess.SerialNum())
		return nil, nil
	}
	var reply struct {
		InjectionProfiles map[string]InjectionProfile `json:"injection_profiles"`
	}
	if err := json.Unmarshal(res.Data, &reply); err != nil {
		return nil, fmt.Errorf("solmate: injection profiles: decode: %w", err)
	}
	return reply.InjectionProfiles, nil
}

// SetInjectionProfiles replaces the device's stored profiles. The device
// accepts the update only when timestamp is newer than its stored one, so
// callers pass the current time.
func (c *Client) SetInjectionProfiles(ctx context.Context, profiles map[string]InjectionProfile, timestamp time.Time) (json.RawMessage, error) {
	return c.sess.Call(ctx, "set_injection_profiles", map[string]any{
		"injection_profiles": profiles,
		"timestamp":          wire.ProfileTimestamp(timestamp),
	})
}

// ApplyInjectionProfile activates the named profile.
func (c *Client) ApplyInjectionProfile(ctx context.Context, name string) (json.RawMessage, error) {
	return c.sess.Call(ctx, "apply_injection_profile", map[string]any{"name": name})
}
