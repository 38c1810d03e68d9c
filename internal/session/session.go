// Package session provides page sessions backed by a rendering engine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"time"

	"insta_spider/internal/config"
)

var (
	// ErrTimeout is returned when a bounded wait expires.
	ErrTimeout = errors.New("wait timed out")
	// ErrNoElement is returned when a click target does not exist.
	ErrNoElement = errors.New("no such element")
	// ErrBlocked is returned when the host forbids fetching a page.
	ErrBlocked = errors.New("fetch disallowed by host")
)

// Session owns one rendering engine handle. It is not safe for concurrent use.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// WaitFor blocks until sel matches or timeout elapses, returning ErrTimeout
	// in the latter case.
	WaitFor(ctx context.Context, sel string, timeout time.Duration) error
	// Click clicks the index-th element matching sel.
	Click(ctx context.Context, sel string, index int) error
	Markup(ctx context.Context) (string, error)
	Close() error
}

// Factory opens a new Session per target.
type Factory interface {
	Open(ctx context.Context) (Session, error)
}

// Identity is the outbound fingerprint chosen for one session.
type Identity struct {
	UserAgent string
	Proxy     *config.ProxyConfig
	Locale    string
}

// PickIdentity draws a random user agent and proxy from the configured pools.
func PickIdentity(cfg config.BrowserConfig) Identity {
	id := Identity{Locale: cfg.Locale}
	if n := len(cfg.UserAgents); n > 0 {
		id.UserAgent = cfg.UserAgents[rand.IntN(n)]
	}
	if n := len(cfg.Proxies); n > 0 {
		p := cfg.Proxies[rand.IntN(n)]
		id.Proxy = &p
	}
	return id
}

// BinaryPath resolves the browser executable for platform under dir.
func BinaryPath(dir string, binaries map[string]string, platform string) (string, error) {
	name, ok := binaries[platform]
	if !ok {
		return "", fmt.Errorf("no browser binary configured for platform %q", platform)
	}
	return filepath.Join(dir, name), nil
}

// NewFactory selects the engine named in cfg.
func NewFactory(cfg *config.SpiderConfig, platform string, logger *slog.Logger) (Factory, error) {
	switch cfg.Browser.Engine {
	case "chrome":
		execPath := ""
		if cfg.Browser.BinDir != "" {
			p, err := BinaryPath(cfg.Browser.BinDir, cfg.Browser.Binaries, platform)
			if err != nil {
				return nil, err
			}
			execPath = p
		}
		return &ChromeFactory{
			Browser:  cfg.Browser,
			ExecPath: execPath,
			Timeouts: Timeouts{Action: cfg.Logic.ActionTimeout(), Navigate: cfg.Logic.NavigateTimeout()},
			Logger:   logger,
		}, nil
	case "static":
		return &StaticFactory{
			Browser:  cfg.Browser,
			Timeouts: Timeouts{Action: cfg.Logic.ActionTimeout(), Navigate: cfg.Logic.NavigateTimeout()},
			Logger:   logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", cfg.Browser.Engine)
	}
}

// Timeouts bound engine operations that have no caller supplied limit.
type Timeouts struct {
	Action   time.Duration
	Navigate time.Duration
}
