package stream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Config describes one Session: where to connect, how to authenticate, what
// to subscribe to, and the transport tuning knobs.
type Config struct {
	// Address is the upstream server, either host:port or a full URL.
	Address string
	// Token is the bearer credential, sent on the dial handshake and on
	// every subscription-level call.
	Token string
	// Insecure selects plaintext ws:// instead of wss://.
	Insecure bool
	// Params is the subscription issued on Start.
	Params SubscribeParams

	// HandshakeTimeout bounds the websocket handshake.
	HandshakeTimeout time.Duration
	// KeepAlive is the ping frame interval.
	KeepAlive time.Duration
	// IdleTimeout is the per-read deadline; the connection faults if the
	// server stays silent longer than this.
	IdleTimeout time.Duration
	// WriteTimeout bounds each outbound write.
	WriteTimeout time.Duration
	// MaxMessageBytes caps inbound message size. 0 keeps the transport default.
	MaxMessageBytes int64
	// MaxAge rotates the connection after this duration, surfacing an
	// orderly stream end. 0 disables rotation.
	MaxAge time.Duration
	// Buffer is the capacity of the Updates channel.
	Buffer int
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 10000
	}
	return c
}

// buildURL derives the websocket URL from a configured address. Bare
// host:port gets a scheme chosen by the insecure flag; http(s) URLs are
// rewritten to their websocket counterparts.
func buildURL(address string, insecure bool) (string, error) {
	if address == "" {
		return "", errors.New("stream: empty server address")
	}

	if strings.Contains(address, "://") {
		u, err := url.Parse(address)
		if err != nil {
			return "", fmt.Errorf("stream: parse server address: %w", err)
		}
		switch u.Scheme {
		case "ws", "wss":
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		default:
			return "", fmt.Errorf("stream: unsupported scheme %q", u.Scheme)
		}
		return u.String(), nil
	}

	scheme := "wss"
	if insecure {
		scheme = "ws"
	}
	return scheme + "://" + address, nil
}

// dial opens the websocket connection with auth headers and TLS settings.
func dial(ctx context.Context, cfg Config) (*websocket.Conn, error) {
	endpoint, err := buildURL(cfg.Address, cfg.Insecure)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if !cfg.Insecure {
		dialer.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	if cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(cfg.MaxMessageBytes)
	}
	return conn, nil
}
