// Package conn implements the per-connection state machine: one
// goroutine per remote client that authenticates, dispatches frames to
// the session.Manager, and is swept by the Registry's heartbeat.
package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/termaway/termawayd/internal/auth"
	"github.com/termaway/termawayd/internal/session"
	"github.com/termaway/termawayd/internal/wire"
	"github.com/termaway/termawayd/internal/wsconn"
)

// inboundRate/inboundBurst bound how fast a single connection's frames
// are processed. Generous enough that no well-behaved client (even one
// streaming keystrokes) is ever throttled; it exists to bound a
// misbehaving or compromised peer.
const (
	inboundRate  = 200
	inboundBurst = 400
)

// State is a Connection's position in the auth/attach FSM.
type State int

const (
	Unauthenticated State = iota
	Authenticated
	Closing
)

const heartbeatInterval = 30 * time.Second

// Connection is one remote client's session with the daemon. It
// implements session.Client so Sessions can push output frames to it
// directly.
type Connection struct {
	ws      *wsconn.Conn
	mgr     *session.Manager
	gate    *auth.Gate
	reg     *Registry
	log     zerolog.Logger
	inbound *rate.Limiter

	remoteAddress string
	connectedAt   time.Time

	mu              sync.Mutex
	state           State
	alive           bool
	attachedSession string
	replayCancel    context.CancelFunc
	closed          bool
}

// New constructs a Connection around an upgraded WebSocket and registers
// it with reg. Call Run to start serving it.
func New(ws *wsconn.Conn, mgr *session.Manager, gate *auth.Gate, reg *Registry, log zerolog.Logger) *Connection {
	c := &Connection{
		ws:            ws,
		mgr:           mgr,
		gate:          gate,
		reg:           reg,
		log:           log,
		inbound:       rate.NewLimiter(rate.Limit(inboundRate), inboundBurst),
		remoteAddress: stripIPv4Prefix(ws.RemoteAddr()),
		connectedAt:   time.Now(),
		alive:         true,
	}
	reg.add(c)
	return c
}

// stripIPv4Prefix removes the IPv4-in-IPv6 "::ffff:" form and any port
// suffix from a raw net.Addr string.
func stripIPv4Prefix(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return strings.TrimPrefix(host, "::ffff:")
}

func isLoopback(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// Run is the Connection's main loop: send auth-required, then read and
// dispatch frames until the transport closes.
func (c *Connection) Run() {
	c.ws.SetPongHandler(c.markAlive)

	c.send(wire.Marshal(wire.AuthRequiredMsg{Type: wire.TypeAuthRequired, Required: c.gate.Required()}))

	if !c.gate.Required() {
		c.mu.Lock()
		c.state = Authenticated
		c.mu.Unlock()
		// Deferred to the next scheduling tick so the peer finishes its
		// own setup before the client-connected broadcast lands.
		go func() {
			time.Sleep(0)
			c.announceConnected()
		}()
	}

	for {
		data, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		if !c.inbound.Allow() {
			c.log.Debug().Str("remote", c.remoteAddress).Msg("inbound frame rate exceeded, dropping")
			continue
		}
		c.handleFrame(data)
	}

	c.close()
}

func (c *Connection) handleFrame(data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.sendError("Invalid JSON")
		return
	}

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if env.Type == wire.TypeAuth {
		if state != Unauthenticated {
			c.sendError(fmt.Sprintf("Unknown message type: %s", env.Type))
			return
		}
		c.handleAuth(data)
		return
	}

	if state != Authenticated {
		c.sendError("Authentication required")
		return
	}

	switch env.Type {
	case wire.TypeList:
		c.handleList()
	case wire.TypeCreate:
		c.handleCreate(data)
	case wire.TypeAttach:
		c.handleAttach(data)
	case wire.TypeDetach:
		c.handleDetach()
	case wire.TypeInput:
		c.handleInput(data)
	case wire.TypeResize:
		c.handleResize(data)
	case wire.TypeKill:
		c.handleKill(data)
	case wire.TypeRename:
		c.handleRename(data)
	case wire.TypeClipboardSet:
		c.handleClipboardSet(data)
	case wire.TypeClipboardGet:
		c.handleClipboardGet()
	case wire.TypeListClients:
		c.handleListClients()
	case wire.TypeKickClient:
		c.handleKickClient(data)
	default:
		c.sendError(fmt.Sprintf("Unknown message type: %s", env.Type))
	}
}

// Deliver implements session.Client: wrap a raw PTY byte chunk as an
// `output` frame. The chunk becomes the frame's data string; JSON
// encoding replaces any invalid UTF-8 sequence in it with U+FFFD, so
// non-UTF-8 output (or a character split across reads) arrives lossy.
func (c *Connection) Deliver(frame []byte) {
	c.send(wire.Marshal(wire.OutputMsg{Type: wire.TypeOutput, Data: string(frame)}))
}

func (c *Connection) send(frame []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	if err := c.ws.Send(frame); err != nil {
		c.log.Debug().Err(err).Msg("send failed")
	}
}

func (c *Connection) sendError(message string) {
	c.send(wire.Marshal(wire.ErrorMsg{Type: wire.TypeError, Message: message}))
}

func (c *Connection) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Authenticated
}

func (c *Connection) markAlive() {
	c.mu.Lock()
	c.alive = true
	c.mu.Unlock()
}

func (c *Connection) attachedName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachedSession
}

func (c *Connection) setAttached(name string) {
	c.mu.Lock()
	c.attachedSession = name
	c.mu.Unlock()
}

func (c *Connection) clearAttachment(name string) {
	c.mu.Lock()
	if c.attachedSession == name {
		c.attachedSession = ""
	}
	c.mu.Unlock()
}

func (c *Connection) renameAttachment(oldName, newName string) {
	c.mu.Lock()
	if c.attachedSession == oldName {
		c.attachedSession = newName
	}
	c.mu.Unlock()
}

// announceConnected broadcasts client-connected after authentication.
func (c *Connection) announceConnected() {
	count := c.reg.authenticatedCount()
	displayIP := c.remoteAddress
	if isLoopback(c.remoteAddress) {
		displayIP = ""
	}
	frame := wire.Marshal(wire.ClientEventMsg{
		Type:        wire.TypeClientConnected,
		ClientIP:    displayIP,
		ClientCount: count,
		Timestamp:   time.Now().Unix(),
	})
	c.reg.broadcastToAuthenticated(frame)
}

// close transitions to Closing with a generic reason; see closeWith.
func (c *Connection) close() {
	c.closeWith("connection closed")
}

// closeWith transitions to Closing: detaches from all sessions,
// deregisters, closes the transport with reason, and (if the Connection
// had authenticated) broadcasts client-disconnected. Safe to call from
// any goroutine; only the first call has effect.
func (c *Connection) closeWith(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	wasAuthenticated := c.state == Authenticated
	c.state = Closing
	cancel := c.replayCancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.mgr.DetachAll(c)
	c.reg.remove(c)
	c.ws.Close(reason)

	if wasAuthenticated {
		count := c.reg.authenticatedCount()
		displayIP := c.remoteAddress
		if isLoopback(c.remoteAddress) {
			displayIP = ""
		}
		frame := wire.Marshal(wire.ClientEventMsg{
			Type:        wire.TypeClientDisconnected,
			ClientIP:    displayIP,
			ClientCount: count,
			Timestamp:   time.Now().Unix(),
		})
		c.reg.broadcastToAuthenticated(frame)
	}
}

// kick forcibly closes this connection from an operator's kick-client
// request, with a human-readable reason sent as the close frame reason.
func (c *Connection) kick(reason string) {
	c.closeWith(reason)
}

// heartbeatTick is called by the Registry's single heartbeat timer: a
// Connection that produced no liveness signal since the previous tick is
// closed through the ordinary close path, which writes a best-effort
// normal-closure close frame before closing the transport; otherwise its
// alive flag is cleared and a ping probe goes out.
func (c *Connection) heartbeatTick() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	wasAlive := c.alive
	c.alive = false
	c.mu.Unlock()

	if !wasAlive {
		c.log.Debug().Str("remote", c.remoteAddress).Msg("heartbeat missed, terminating connection")
		c.close()
		return
	}
	if err := c.ws.Ping(); err != nil {
		c.close()
	}
}
