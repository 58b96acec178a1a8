package conn

import (
	"context"
	"sync"
	"time"

	"github.com/termaway/termawayd/internal/session"
	"github.com/termaway/termawayd/internal/wire"
)

// Registry tracks every live Connection so broadcasts (session-list
// changes, client-connected/disconnected, clipboard updates) and the
// list-clients/kick-client operations can enumerate authenticated peers.
// It also implements session.EventSink, translating Manager-level events
// into frames pushed to the relevant connections.
type Registry struct {
	mu    sync.Mutex
	conns map[*Connection]struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Connection]struct{})}
}

func (r *Registry) add(c *Connection) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
}

func (r *Registry) remove(c *Connection) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
}

// all returns a snapshot of every live Connection, whatever its state.
func (r *Registry) all() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// RunHeartbeat is the single 30-second liveness timer covering every
// Connection; it stops when ctx is cancelled (daemon shutdown).
func (r *Registry) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range r.all() {
				c.heartbeatTick()
			}
		}
	}
}

// authenticated returns a snapshot of currently-Authenticated connections
// in Go's randomized map iteration order; list-clients indices derived
// from it are deliberately not stable across calls.
func (r *Registry) authenticated() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		if c.isAuthenticated() {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) authenticatedCount() int {
	return len(r.authenticated())
}

// broadcastToAuthenticated sends frame to every Authenticated connection.
func (r *Registry) broadcastToAuthenticated(frame []byte) {
	for _, c := range r.authenticated() {
		c.send(frame)
	}
}

// broadcastToOthers sends frame to every Authenticated connection except
// the excluding one (used by clipboard-set).
func (r *Registry) broadcastToOthers(exclude *Connection, frame []byte) {
	for _, c := range r.authenticated() {
		if c != exclude {
			c.send(frame)
		}
	}
}

// ─── session.EventSink ─────────────────────────────────────────────────

func toInfoSummaries(list []session.Info) []wire.SessionSummary {
	out := make([]wire.SessionSummary, 0, len(list))
	for _, info := range list {
		out = append(out, wire.SessionSummary{
			Name:        info.Name,
			ClientCount: info.ClientCount,
			CreatedAt:   info.CreatedAt.Unix(),
			IsConnected: info.IsConnected,
		})
	}
	return out
}

func (r *Registry) BroadcastSessions(list []session.Info) {
	frame := wire.Marshal(wire.SessionsMsg{Type: wire.TypeSessions, List: toInfoSummaries(list)})
	r.broadcastToAuthenticated(frame)
}

func (r *Registry) SessionExited(name string, info session.ExitInfo, attached []session.Client) {
	frame := wire.Marshal(wire.ExitedMsg{
		Type:     wire.TypeExited,
		Name:     name,
		ExitCode: info.ExitCode,
		Signal:   info.Signal,
	})
	for _, cl := range attached {
		if c, ok := cl.(*Connection); ok {
			c.clearAttachment(name)
			c.send(frame)
		}
	}
}

func (r *Registry) SessionKilled(name string, attached []session.Client) {
	frame := wire.Marshal(wire.KilledMsg{Type: wire.TypeKilled, Name: name})
	for _, cl := range attached {
		if c, ok := cl.(*Connection); ok {
			c.clearAttachment(name)
			c.send(frame)
		}
	}
}

func (r *Registry) SessionRenamed(oldName, newName string, attached []session.Client) {
	frame := wire.Marshal(wire.RenamedMsg{Type: wire.TypeRenamed, OldName: oldName, NewName: newName})
	for _, cl := range attached {
		if c, ok := cl.(*Connection); ok {
			c.renameAttachment(oldName, newName)
			c.send(frame)
		}
	}
}
