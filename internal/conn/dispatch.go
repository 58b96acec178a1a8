package conn

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/termaway/termawayd/internal/auth"
	"github.com/termaway/termawayd/internal/session"
	"github.com/termaway/termawayd/internal/wire"
)

func (c *Connection) handleAuth(data []byte) {
	var msg wire.AuthMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("Invalid JSON")
		return
	}

	ok, err := c.gate.Check(c.remoteAddress, msg.Password)
	var rl *auth.RateLimited
	if errors.As(err, &rl) {
		c.send(wire.Marshal(wire.AuthFailedMsg{Type: wire.TypeAuthFailed, Message: rl.Error()}))
		return
	}
	if !ok {
		c.send(wire.Marshal(wire.AuthFailedMsg{Type: wire.TypeAuthFailed, Message: "Invalid password"}))
		return
	}

	c.mu.Lock()
	c.state = Authenticated
	c.mu.Unlock()

	c.send(wire.Marshal(wire.AuthSuccessMsg{Type: wire.TypeAuthSuccess}))

	c.announceConnected()
}

func (c *Connection) handleList() {
	list := c.mgr.AllInfo()
	frame := wire.Marshal(wire.SessionsMsg{Type: wire.TypeSessions, List: toInfoSummaries(list)})
	c.send(frame)
}

func (c *Connection) handleCreate(data []byte) {
	var msg wire.CreateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("Invalid JSON")
		return
	}

	s, err := c.mgr.Create(msg.Name)
	if err != nil {
		c.sendError(sessionErrorMessage(err))
		return
	}

	name := s.Name()
	c.send(wire.Marshal(wire.CreatedMsg{Type: wire.TypeCreated, Name: name}))

	c.attachTo(name)
	c.mgr.BroadcastSessions()
}

func (c *Connection) handleAttach(data []byte) {
	var msg wire.AttachMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("Invalid JSON")
		return
	}

	if cur := c.attachedName(); cur != "" {
		c.mgr.Detach(cur, c)
		c.setAttached("")
	}

	c.attachTo(msg.Name)
}

// attachTo performs the attach + scrollback replay + `attached` reply
// shared by `create` and `attach`.
func (c *Connection) attachTo(name string) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.replayCancel = cancel
	c.mu.Unlock()

	_, err := c.mgr.Attach(ctx, name, c)
	cancel()

	c.mu.Lock()
	c.replayCancel = nil
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	if err != nil {
		c.sendError(sessionErrorMessage(err))
		return
	}

	c.setAttached(name)
	c.send(wire.Marshal(wire.AttachedMsg{Type: wire.TypeAttached, Name: name}))
}

func (c *Connection) handleDetach() {
	if cur := c.attachedName(); cur != "" {
		c.mgr.Detach(cur, c)
		c.setAttached("")
	}
	c.send(wire.Marshal(wire.DetachedMsg{Type: wire.TypeDetached}))
}

func (c *Connection) handleInput(data []byte) {
	name := c.attachedName()
	if name == "" {
		c.sendError("Not attached to any session")
		return
	}
	var msg wire.InputMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("Invalid JSON")
		return
	}
	_ = c.mgr.Write(name, []byte(msg.Data))
}

func (c *Connection) handleResize(data []byte) {
	name := c.attachedName()
	if name == "" {
		return
	}
	var msg wire.ResizeMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Cols < 1 || msg.Rows < 1 {
		return
	}
	_ = c.mgr.Resize(name, c, msg.Cols, msg.Rows)
}

func (c *Connection) handleKill(data []byte) {
	var msg wire.KillMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("Invalid JSON")
		return
	}
	if err := c.mgr.Kill(msg.Name); err != nil {
		c.sendError(sessionErrorMessage(err))
		return
	}
	// The requester always gets an explicit reply; Connections that were
	// attached to the killed Session (possibly including the requester)
	// separately receive the same frame via Registry.SessionKilled.
	c.send(wire.Marshal(wire.KilledMsg{Type: wire.TypeKilled, Name: msg.Name}))
}

func (c *Connection) handleRename(data []byte) {
	var msg wire.RenameMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("Invalid JSON")
		return
	}
	if err := c.mgr.Rename(msg.OldName, msg.NewName); err != nil {
		c.sendError(sessionErrorMessage(err))
		return
	}
}

func (c *Connection) handleClipboardSet(data []byte) {
	var msg wire.ClipboardSetMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("Invalid JSON")
		return
	}
	if err := c.mgr.SetClipboard(msg.Content); err != nil {
		c.sendError("Clipboard content too large")
		return
	}
	c.reg.broadcastToOthers(c, wire.Marshal(wire.ClipboardUpdateMsg{
		Type:    wire.TypeClipboardUpdate,
		Content: msg.Content,
	}))
	c.send(wire.Marshal(wire.ClipboardSetOKMsg{Type: wire.TypeClipboardSetOK}))
}

func (c *Connection) handleClipboardGet() {
	c.send(wire.Marshal(wire.ClipboardContentMsg{
		Type:    wire.TypeClipboardContent,
		Content: c.mgr.GetClipboard(),
	}))
}

func (c *Connection) handleListClients() {
	conns := c.reg.authenticated()
	list := make([]wire.ClientSummary, 0, len(conns))
	for i, other := range conns {
		list = append(list, wire.ClientSummary{
			ID:          i,
			IP:          other.remoteAddress,
			ConnectedAt: other.connectedAt.Unix(),
			Session:     other.attachedName(),
		})
	}
	c.send(wire.Marshal(wire.ClientsMsg{Type: wire.TypeClients, List: list}))
}

func (c *Connection) handleKickClient(data []byte) {
	var msg wire.KickClientMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("Invalid JSON")
		return
	}

	conns := c.reg.authenticated()
	if msg.ClientID < 0 || msg.ClientID >= len(conns) {
		c.sendError("Unknown client")
		return
	}
	target := conns[msg.ClientID]
	if target == c {
		c.sendError("Cannot kick yourself")
		return
	}

	target.kick("Kicked by another client")
	c.send(wire.Marshal(wire.ClientKickedMsg{Type: wire.TypeClientKicked, ClientID: msg.ClientID}))
}

func sessionErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidName):
		return "Invalid session name"
	case errors.Is(err, session.ErrAlreadyExists):
		return "Session already exists"
	case errors.Is(err, session.ErrNotFound):
		return "Session not found"
	case errors.Is(err, session.ErrSpawnFailed):
		return "Failed to start session"
	case errors.Is(err, session.ErrDisconnected):
		return "Session disconnected"
	case errors.Is(err, session.ErrClipboardLarge):
		return "Clipboard content too large"
	default:
		return err.Error()
	}
}
