package stockfighter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"stockpurse/internal/domain"
)

func TestFeedURLs(t *testing.T) {
	base := "wss://api.stockfighter.io/ob/api/ws/"
	require.Equal(t,
		"wss://api.stockfighter.io/ob/api/ws/EXB123456/venues/TESTEX/tickertape/stocks/FOOBAR",
		TapeURL(base, "EXB123456", testInst))
	require.Equal(t,
		"wss://api.stockfighter.io/ob/api/ws/EXB123456/venues/TESTEX/executions/stocks/FOOBAR",
		ExecutionsURL(base, "EXB123456", testInst))
}

// wsServer upgrades every connection and writes msgs, then holds the socket open.
func wsServer(t *testing.T, wantPath string, msgs ...string) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wantPath {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// Wait for the client to hang up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTapeWorker(t *testing.T) {
	base := wsServer(t, "/EXB123456/venues/TESTEX/tickertape/stocks/FOOBAR",
		`not json`,
		`{"ok":false}`,
		`{"ok":true,"quote":{"symbol":"FOOBAR","venue":"TESTEX","bid":5100,"ask":5125,"last":5110}}`,
	)

	quotes := make(chan *domain.Quote, 4)
	w := NewTapeWorker(base, "EXB123456", testInst, func(q *domain.Quote) { quotes <- q })
	require.NoError(t, w.Connect(context.Background()))
	defer w.Disconnect()

	select {
	case q := <-quotes:
		require.NotNil(t, q.Last)
		require.Equal(t, int64(5110), *q.Last)
	case <-time.After(3 * time.Second):
		t.Fatal("no quote received")
	}
	require.True(t, w.IsConnected())
}

func TestExecutionsWorker(t *testing.T) {
	base := wsServer(t, "/EXB123456/venues/TESTEX/executions/stocks/FOOBAR",
		`{"ok":true,"account":"EXB123456","venue":"TESTEX","symbol":"FOOBAR",
		  "order":`+orderJSON+`,
		  "standingId":12345,"incomingId":12346,"price":500,"filled":20,
		  "filledAt":"2015-07-05T22:16:18+00:00","standingComplete":false,"incomingComplete":true}`,
	)

	execs := make(chan *Execution, 1)
	w := NewExecutionsWorker(base, "EXB123456", testInst, func(ex *Execution) { execs <- ex })
	require.NoError(t, w.Connect(context.Background()))

	select {
	case ex := <-execs:
		require.Equal(t, domain.OrderID(12345), ex.Order.ID)
		require.Equal(t, domain.OrderID(12345), ex.StandingID)
		require.Equal(t, int64(60), ex.Order.FilledQty())
		require.False(t, ex.StandingComplete)
	case <-time.After(3 * time.Second):
		t.Fatal("no execution received")
	}

	w.Disconnect()
	require.False(t, w.IsConnected())
}

func TestFeed_ReconnectsAfterRejectedHandshake(t *testing.T) {
	w := NewTapeWorker("ws://127.0.0.1:1", "EXB123456", testInst, func(*domain.Quote) {})
	w.backoff = func(int) time.Duration { return 10 * time.Millisecond }

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Connect(ctx))

	<-ctx.Done()
	w.Disconnect()
	require.False(t, w.IsConnected())
}
