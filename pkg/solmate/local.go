package solmate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/trymwestin/solmate/internal/core/mux"
	"github.com/trymwestin/solmate/internal/core/session"
	"github.com/trymwestin/solmate/internal/core/transport"
)

// LocalClient talks to a SolMate directly on the local network, where some
// extra routes are available. There is no load balancer between the client
// and the device, so the endpoint is pre-verified and never redirected.
//
// Local sessions authenticate with their own device identifier and keep a
// separate token store; a token obtained through the public endpoint will
// not work here.
type LocalClient struct {
	Client
}

// NewLocalClient creates a local-mode client. cfg.URI must point at the
// device, e.g. "ws://sun2plug-xxxx:9124" (use the hostname from your DHCP
// lease, not the IP) or "ws://192.168.4.1:9124" via its access point.
func NewLocalClient(cfg Config, log *slog.Logger) *LocalClient {
	return &LocalClient{
		Client: Client{
			sess: newSession(cfg, session.ModeLocal, transport.NewLocalDialer(log), log),
			log:  log,
		},
	}
}

// NewLocalClientWithSession wraps an existing local-mode session.
func NewLocalClientWithSession(sess *session.Session, log *slog.Logger) *LocalClient {
	return &LocalClient{Client: Client{sess: sess, log: log}}
}

// ListWifis lists the available, non-hidden SSIDs the device can see.
func (c *LocalClient) ListWifis(ctx context.Context) ([]string, error) {
	raw, err := c.sess.Call(ctx, "list_wifis", map[string]any{})
	if err != nil {
		return nil, err
	}
	var ssids []string
	if err := json.Unmarshal(raw, &ssids); err != nil {
		// Some firmware wraps the list in an object.
		var reply struct {
			Wifis []string `json:"wifis"`
		}
		if err2 := json.Unmarshal(raw, &reply); err2 != nil {
			return nil, fmt.Errorf("solmate: list wifis: decode: %w", err)
		}
		ssids = reply.Wifis
	}
	return ssids, nil
}

// ConnectToWifi switches the device to the given SSID. The device drops the
// connection by design once it accepts the change, which is reported as
// ErrConnectionClosedOnPurpose — distinct from an unexpected closure, so
// callers don't misreport the expected outcome as a failure. While the
// device switches networks the request may instead time out; the timeout
// propagates and the caller's reconnect retry policy handles it.
func (c *LocalClient) ConnectToWifi(ctx context.Context, ssid, password string) error {
	_, err := c.sess.Call(ctx, "connect_to_wifi", map[string]any{
		"ssid":     ssid,
		"password": password,
	})
	if err != nil {
		if errors.Is(err, mux.ErrConnectionClosed) {
			return session.ClosedOnPurpose(err)
		}
		return err
	}
	return nil
}

// CheckOnline reports whether the device is reachable. The local API has no
// check_online route; being connected is being online.
func (c *LocalClient) CheckOnline(_ context.Context) (bool, error) {
	return c.sess.Connected(), nil
}
