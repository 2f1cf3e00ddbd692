package engine

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Reconnect backoff for the notifier socket.
const (
	notifyInitBackoff = 5 * time.Second
	notifyMaxBackoff  = 5 * time.Minute
	notifyBackoffMult = 2
	notifyReadLimit   = 1 << 16 // notifier frames are tiny control messages
)

// Notifier holds a websocket subscription to the coordination server's
// change feed. Any frame from the server means "new data or capacity is
// available, sync now" and fires the callback. The socket is best-effort:
// the periodic poll still drives cadence when it is down, so connection
// loss only degrades latency, never correctness.
type Notifier struct {
	url    string
	header http.Header
	onPing func()
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewNotifier creates a notifier for the websocket endpoint at url.
// header carries authentication (may be nil). onPing is invoked from the
// notifier's goroutine on every server frame.
func NewNotifier(url string, header http.Header, onPing func(), logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		url:    url,
		header: header,
		onPing: onPing,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the subscription loop: dial, read frames, reconnect with
// exponential backoff on any error, until the context is canceled or Close
// is called.
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)

	go n.loop(ctx)
}

// Close stops the subscription loop and waits for it to exit. Safe to call
// when Start was never called, and safe to call twice.
func (n *Notifier) Close() {
	n.once.Do(func() {
		if n.cancel == nil {
			close(n.done)
			return
		}

		n.cancel()
		<-n.done
	})
}

func (n *Notifier) loop(ctx context.Context) {
	defer close(n.done)

	backoff := notifyInitBackoff

	for {
		connected, err := n.subscribe(ctx)
		if ctx.Err() != nil {
			return
		}

		if connected {
			backoff = notifyInitBackoff
		}

		if err != nil {
			n.logger.Warn("notifier connection lost",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		backoff *= notifyBackoffMult
		if backoff > notifyMaxBackoff {
			backoff = notifyMaxBackoff
		}
	}
}

// subscribe dials the socket and reads frames until the connection drops.
// The returned bool reports whether the dial succeeded, so the loop can
// reset its reconnect backoff after a healthy connection.
func (n *Notifier) subscribe(ctx context.Context) (bool, error) {
	conn, _, err := websocket.Dial(ctx, n.url, &websocket.DialOptions{
		HTTPHeader: n.header,
	})
	if err != nil {
		return false, err
	}

	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	conn.SetReadLimit(notifyReadLimit)

	n.logger.Info("notifier connected", slog.String("url", n.url))

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return true, err
		}

		n.onPing()
	}
}
