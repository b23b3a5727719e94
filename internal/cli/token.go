package cli

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/bhandras/ussdpilot/internal/config"
	"github.com/bhandras/ussdpilot/internal/crypto"
	"github.com/bhandras/ussdpilot/pkg/logger"
	qrcode "github.com/skip2/go-qrcode"
)

const apiScope = "api"

// TokenCommand mints an API token for subject.
func TokenCommand(cfg *config.Config, subject string, ttl time.Duration, out io.Writer) error {
	token, err := mintToken(cfg, subject, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

// PairCommand prints the updates stream URL of baseURL, with a fresh token
// when the API is authenticated, as a terminal QR code for a device agent or
// dashboard to scan.
func PairCommand(cfg *config.Config, baseURL, subject string, ttl time.Duration, out io.Writer) error {
	link, err := updatesURL(baseURL)
	if err != nil {
		return err
	}
	if cfg.APISecret != "" {
		token, err := mintToken(cfg, subject, ttl)
		if err != nil {
			return err
		}
		q := link.Query()
		q.Set("token", token)
		link.RawQuery = q.Encode()
	}

	data := link.String()
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		logger.Warnf("Failed to generate QR code: %v", err)
		fmt.Fprintln(out, data)
		return nil
	}
	fmt.Fprintln(out, qr.ToSmallString(false))
	fmt.Fprintln(out, data)
	return nil
}

func mintToken(cfg *config.Config, subject string, ttl time.Duration) (string, error) {
	if cfg.APISecret == "" {
		return "", fmt.Errorf("no API secret configured (set USSDPILOT_API_SECRET)")
	}
	jwtManager, err := crypto.NewJWTManager(cfg.APISecret)
	if err != nil {
		return "", fmt.Errorf("failed to create JWT manager: %w", err)
	}
	if subject == "" {
		subject = "console"
	}
	return jwtManager.CreateToken(subject, apiScope, ttl)
}

// updatesURL turns an http(s) base URL into the websocket URL of the
// updates stream.
func updatesURL(baseURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("invalid url %q: expected http(s) or ws(s)", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: missing host", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/updates"
	return u, nil
}

// BaseURL guesses the local URL of a server listening on addr.
func BaseURL(addr string) string {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host
}
