package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilchat/internal/model"
)

// wsPair upgrades one connection through an httptest server and returns the
// server side plus the dialed peer.
func wsPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverSide := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	select {
	case conn := <-serverSide:
		return conn, peer
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade did not complete")
		return nil, nil
	}
}

func TestCloseFrameRoutedThroughWritePump(t *testing.T) {
	conn, peer := wsPair(t)

	c := newClient("conn-1", "dev-1", "alice", conn, 8)
	go c.writePump()

	// Outbound frames and the close race in from different goroutines; the
	// pump must serialize every write on the single connection.
	go func() {
		for i := 0; i < 50; i++ {
			c.enqueue(&model.Frame{Type: model.FrameAck, MsgID: "m"})
		}
	}()
	c.closeWith(CloseAuthFailure, "re-authenticate")

	code := 0
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := peer.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
			}
			break
		}
	}
	assert.Equal(t, CloseAuthFailure, code)

	select {
	case <-c.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not shut down after the close frame")
	}
}

func TestCloseWithNoConnectionShutsDown(t *testing.T) {
	c := newClient("conn-1", "dev-1", "alice", nil, 8)
	c.closeWith(CloseAuthFailure, "re-authenticate")

	select {
	case <-c.closed:
	default:
		t.Fatal("client still open")
	}
	assert.False(t, c.enqueue(&model.Frame{Type: model.FrameAck}))
}
