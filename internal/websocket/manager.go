// Package websocket streams change-bus messages to WebSocket clients, one
// JSON text frame per message.
package websocket

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/wasmscope/internal/bus"
	"github.com/conneroisu/wasmscope/internal/errors"
	"github.com/conneroisu/wasmscope/internal/logging"
)

// ChangeSource opens change-bus subscriptions.
type ChangeSource interface {
	SubscribeChanges() *bus.Subscription
}

// Defaults applied to zero-valued options.
const (
	DefaultPingInterval        = 54 * time.Second
	DefaultWriteTimeout        = 10 * time.Second
	DefaultMaxConnectionsPerIP = 20
)

// Options configures a StreamManager.
type Options struct {
	// OriginPatterns lists host patterns (filepath.Match syntax) accepted in
	// the Origin header. Same-host requests and requests without an Origin
	// are always accepted.
	OriginPatterns      []string
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	MaxConnectionsPerIP int
	Logger              logging.Logger
}

// Client is one connected stream.
type Client struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`

	sent atomic.Int64
}

// Sent returns the number of frames written to the client.
func (c *Client) Sent() int64 { return c.sent.Load() }

// StreamManager upgrades requests and pumps subscription messages to the
// resulting connections.
type StreamManager struct {
	source ChangeSource
	opts   Options
	logger logging.Logger

	clientsMutex sync.RWMutex
	clients      map[string]*Client
	perIP        map[string]int

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isShutdown atomic.Bool
}

// NewStreamManager creates a manager streaming from source.
func NewStreamManager(source ChangeSource, opts Options) *StreamManager {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MaxConnectionsPerIP <= 0 {
		opts.MaxConnectionsPerIP = DefaultMaxConnectionsPerIP
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &StreamManager{
		source:  source,
		opts:    opts,
		logger:  opts.Logger.WithComponent("websocket"),
		clients: make(map[string]*Client),
		perIP:   make(map[string]int),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ServeHTTP upgrades the request and streams until the subscription ends,
// the peer goes away or the manager shuts down.
func (m *StreamManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.isShutdown.Load() {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	origin := r.Header.Get("Origin")
	if !m.IsAllowedOrigin(r) {
		m.logger.Warn(r.Context(), errors.ErrInvalidOrigin(origin), "WebSocket connection rejected",
			"remote_addr", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	ip := clientIP(r)
	if !m.reserve(ip) {
		m.logger.Warn(r.Context(), nil, "WebSocket connection rejected: too many connections",
			"ip", ip, "limit", m.opts.MaxConnectionsPerIP)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}
	defer m.release(ip)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin was checked above.
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		m.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote_addr", r.RemoteAddr)
		return
	}

	m.wg.Add(1)
	defer m.wg.Done()

	sub := m.source.SubscribeChanges()
	defer sub.Close()

	client := &Client{ID: sub.ID(), RemoteAddr: r.RemoteAddr, ConnectedAt: time.Now()}
	m.register(client)
	defer m.unregister(client)

	// Clients never send anything; CloseRead handles control frames and
	// cancels the context when the peer closes.
	peerCtx := conn.CloseRead(m.ctx)
	status, reason := m.pump(peerCtx, conn, sub, client)
	_ = conn.Close(status, reason)
}

// pump writes every subscription message to conn and returns the close
// status to send.
func (m *StreamManager) pump(ctx context.Context, conn *websocket.Conn, sub *bus.Subscription, client *Client) (websocket.StatusCode, string) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return websocket.StatusNormalClosure, "stream closed"
			}
			if err := m.write(ctx, conn, msg); err != nil {
				m.logger.Debug(ctx, "WebSocket write failed", "client", client.ID, "error", err.Error())
				return websocket.StatusInternalError, "write failed"
			}
			client.sent.Add(1)
			if msg.Type == bus.MessageDisconnecting {
				return websocket.StatusGoingAway, "server shutting down"
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				m.logger.Debug(ctx, "WebSocket ping failed", "client", client.ID, "error", err.Error())
				return websocket.StatusPolicyViolation, "ping timeout"
			}

		case <-ctx.Done():
			if m.isShutdown.Load() {
				return websocket.StatusGoingAway, "server shutting down"
			}
			return websocket.StatusNormalClosure, ""
		}
	}
}

func (m *StreamManager) write(ctx context.Context, conn *websocket.Conn, msg bus.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// IsAllowedOrigin reports whether the request's Origin may open a stream.
func (m *StreamManager) IsAllowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, pattern := range m.opts.OriginPatterns {
		matched, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(u.Host))
		if err == nil && matched {
			return true
		}
	}
	return false
}

func (m *StreamManager) reserve(ip string) bool {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()
	if m.perIP[ip] >= m.opts.MaxConnectionsPerIP {
		return false
	}
	m.perIP[ip]++
	return true
}

func (m *StreamManager) release(ip string) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()
	if m.perIP[ip]--; m.perIP[ip] <= 0 {
		delete(m.perIP, ip)
	}
}

func (m *StreamManager) register(c *Client) {
	m.clientsMutex.Lock()
	m.clients[c.ID] = c
	n := len(m.clients)
	m.clientsMutex.Unlock()
	m.logger.Info(context.Background(), "WebSocket client connected", "client", c.ID, "remote_addr", c.RemoteAddr, "clients", n)
}

func (m *StreamManager) unregister(c *Client) {
	m.clientsMutex.Lock()
	delete(m.clients, c.ID)
	n := len(m.clients)
	m.clientsMutex.Unlock()
	m.logger.Info(context.Background(), "WebSocket client disconnected", "client", c.ID, "sent", c.Sent(), "clients", n)
}

// GetConnectedClients returns the number of open streams.
func (m *StreamManager) GetConnectedClients() int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()
	return len(m.clients)
}

// Shutdown refuses new connections and waits for open streams to finish,
// which they do once the bus sends disconnecting. Streams still open when
// ctx is done are closed with StatusGoingAway.
func (m *StreamManager) Shutdown(ctx context.Context) error {
	if !m.isShutdown.CompareAndSwap(false, true) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		<-done
		return ctx.Err()
	}
}

// IsShutdown reports whether Shutdown has been called.
func (m *StreamManager) IsShutdown() bool { return m.isShutdown.Load() }

// clientIP returns the host part of the peer address. Forwarding headers
// are ignored so the per-IP limit cannot be sidestepped.
func clientIP(r *http.Request) string {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
