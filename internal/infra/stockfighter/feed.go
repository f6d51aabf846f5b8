package stockfighter

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stockpurse/internal/domain"
	"stockpurse/internal/infra"
)

const (
	readTimeout      = 90 * time.Second
	handshakeTimeout = 10 * time.Second
	maxRetries       = 10
)

// feed is a reconnecting read-only websocket subscription. Each text frame
// is passed to handle.
type feed struct {
	name   string
	url    string
	handle func(msg []byte)
	logger *slog.Logger

	// backoff is replaced in tests.
	backoff func(retry int) time.Duration

	conn      *websocket.Conn
	mu        sync.RWMutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newFeed(name, rawURL string, handle func([]byte)) *feed {
	return &feed{
		name:    name,
		url:     rawURL,
		handle:  handle,
		logger:  slog.Default().With("module", "stockfighter_"+name),
		backoff: infra.CalculateBackoff,
	}
}

func (w *feed) Connect(ctx context.Context) error {
	if _, err := url.Parse(w.url); err != nil {
		return err
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *feed) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			w.logger.Warn("Feed connection failed", slog.Any("error", err), slog.Int("retry", retryCount))
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0 // Infinite retry loop for monitoring
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff(retryCount)):
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func (w *feed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return &domain.APIResponseError{StatusCode: resp.StatusCode, Message: "websocket handshake rejected"}
		}
		return domain.NewTransportError(w.name, err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	infra.GlobalMetrics.IncrementConnections()

	w.logger.Info("Feed connected")
	return nil
}

func (w *feed) readLoop(ctx context.Context) {
	// Unblock ReadMessage when the context ends.
	stop := context.AfterFunc(ctx, w.closeConnection)
	defer stop()

	for {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				w.logger.Warn("Feed read failed", slog.Any("error", err))
			}
			w.closeConnection()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		w.handle(msg)
	}
}

func (w *feed) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		infra.GlobalMetrics.DecrementConnections()
	}
	w.connected = false
}

func (w *feed) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}

func (w *feed) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}
