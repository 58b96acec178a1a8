// Package wsconn wraps a gorilla/websocket connection behind a small
// Conn type so the session and connection layers never import
// gorilla/websocket directly.
package wsconn

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is one upgraded WebSocket channel. Reads return one whole message
// payload per call (text or binary); writes are serialized internally
// so concurrent Send calls from multiple goroutines are safe, satisfying
// the "outbound sink safe for concurrent sends" requirement.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
}

// Upgrade promotes an HTTP request to a WebSocket connection.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{ws: ws}, nil
}

// RemoteAddr returns the peer's network address string.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// ReadMessage blocks for the next data message's payload; the message
// type (text or binary) is discarded.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Send writes one frame, safe for concurrent use.
func (c *Conn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a control-frame liveness probe.
func (c *Conn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// SetPongHandler registers the callback invoked when a pong control frame
// arrives in response to Ping; used by the heartbeat to set `alive`.
func (c *Conn) SetPongHandler(f func()) {
	c.ws.SetPongHandler(func(string) error {
		f()
		return nil
	})
}

// Close closes the underlying transport with a normal-closure frame
// carrying reason, best-effort.
func (c *Conn) Close(reason string) error {
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
	return c.ws.Close()
}
