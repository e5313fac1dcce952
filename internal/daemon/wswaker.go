package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// StreamWaker listens on the server's optional change-notification
// stream and wakes the daemon loop as soon as a message arrives,
// instead of waiting out the rest of the poll interval. It is a
// latency optimization layered on top of the mandatory polling loop,
// not a replacement for it: a dropped or refused connection silently
// falls back to pure polling.
type StreamWaker struct {
	url      string
	user     string
	password string
	logger   *slog.Logger

	reconnectDelay time.Duration
}

// NewStreamWaker builds a waker targeting the server's
// /wp-json/wpdrive/v1/stream endpoint. url is the base URL configured
// for the REST client (scheme http/https; translated to ws/wss here).
func NewStreamWaker(url, user, password string, logger *slog.Logger) *StreamWaker {
	if logger == nil {
		logger = slog.Default()
	}

	return &StreamWaker{
		url:            toWebsocketURL(url),
		user:           user,
		password:       password,
		logger:         logger,
		reconnectDelay: 5 * time.Second,
	}
}

// Wake blocks until a server message arrives, the connection drops
// (treated as "not woken", so the caller falls through to the normal
// timer), or ctx is done.
func (w *StreamWaker) Wake(ctx context.Context) bool {
	conn, _, err := websocket.Dial(ctx, w.url, &websocket.DialOptions{
		HTTPHeader: basicAuthHeader(w.user, w.password),
	})
	if err != nil {
		w.logger.Debug("daemon: wake stream unavailable, polling only", "error", err)
		return w.waitReconnectDelay(ctx)
	}
	defer conn.CloseNow()

	_, _, err = conn.Read(ctx)
	if err != nil {
		w.logger.Debug("daemon: wake stream closed", "error", err)
		return false
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")

	return true
}

func (w *StreamWaker) waitReconnectDelay(ctx context.Context) bool {
	timer := time.NewTimer(w.reconnectDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	return false
}

func toWebsocketURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://") + "/wp-json/wpdrive/v1/stream"
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://") + "/wp-json/wpdrive/v1/stream"
	default:
		return httpURL + "/wp-json/wpdrive/v1/stream"
	}
}

func basicAuthHeader(user, password string) http.Header {
	h := http.Header{}

	req := &http.Request{Header: h}
	req.SetBasicAuth(user, password)

	return h
}
