// Package wire defines the framed JSON message set exchanged between
// termawayd and its remote clients.  Every frame is a single UTF-8 JSON
// object carrying a "type" discriminator; the concrete transport (an
// upgraded WebSocket connection) lives in internal/wsconn.
package wire

import "encoding/json"

// Client → server message types.
const (
	TypeAuth         = "auth"
	TypeList         = "list"
	TypeCreate       = "create"
	TypeAttach       = "attach"
	TypeDetach       = "detach"
	TypeInput        = "input"
	TypeResize       = "resize"
	TypeKill         = "kill"
	TypeRename       = "rename"
	TypeClipboardSet = "clipboard-set"
	TypeClipboardGet = "clipboard-get"
	TypeListClients  = "list-clients"
	TypeKickClient   = "kick-client"
)

// Server → client message types.
const (
	TypeAuthRequired       = "auth-required"
	TypeAuthSuccess        = "auth-success"
	TypeAuthFailed         = "auth-failed"
	TypeSessions           = "sessions"
	TypeCreated            = "created"
	TypeAttached           = "attached"
	TypeDetached           = "detached"
	TypeKilled             = "killed"
	TypeRenamed            = "renamed"
	TypeExited             = "exited"
	TypeOutput             = "output"
	TypeError              = "error"
	TypeClipboardUpdate    = "clipboard-update"
	TypeClipboardContent   = "clipboard-content"
	TypeClipboardSetOK     = "clipboard-set-ok"
	TypeClientConnected    = "client-connected"
	TypeClientDisconnected = "client-disconnected"
	TypeClients            = "clients"
	TypeClientKicked       = "client-kicked"
)

// Envelope is the minimal shape every inbound frame must satisfy so the
// connection layer can route on Type before unmarshalling the rest.
type Envelope struct {
	Type string `json:"type"`
}

// ─── Client → server payloads ─────────────────────────────────────────────

type AuthMsg struct {
	Type     string `json:"type"`
	Password string `json:"password"`
}

type CreateMsg struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type AttachMsg struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type InputMsg struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type ResizeMsg struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

type KillMsg struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type RenameMsg struct {
	Type    string `json:"type"`
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

type ClipboardSetMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type KickClientMsg struct {
	Type     string `json:"type"`
	ClientID int    `json:"clientId"`
}

// ─── Server → client payloads ─────────────────────────────────────────────

type AuthRequiredMsg struct {
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

type AuthSuccessMsg struct {
	Type string `json:"type"`
}

type AuthFailedMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SessionSummary is one entry in a `sessions` broadcast.
type SessionSummary struct {
	Name        string `json:"name"`
	ClientCount int    `json:"clientCount"`
	CreatedAt   int64  `json:"createdAt"`
	IsConnected bool   `json:"isConnected"`
}

type SessionsMsg struct {
	Type string           `json:"type"`
	List []SessionSummary `json:"list"`
}

type CreatedMsg struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type AttachedMsg struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type DetachedMsg struct {
	Type string `json:"type"`
}

type KilledMsg struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type RenamedMsg struct {
	Type    string `json:"type"`
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

type ExitedMsg struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	ExitCode int    `json:"exitCode"`
	Signal   string `json:"signal,omitempty"`
}

type OutputMsg struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ClipboardUpdateMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type ClipboardContentMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type ClipboardSetOKMsg struct {
	Type string `json:"type"`
}

type ClientEventMsg struct {
	Type        string `json:"type"`
	ClientIP    string `json:"clientIP"`
	ClientCount int    `json:"clientCount"`
	Timestamp   int64  `json:"timestamp"`
}

// ClientSummary is one entry in a `clients` reply to list-clients.
type ClientSummary struct {
	ID          int    `json:"id"`
	IP          string `json:"ip"`
	ConnectedAt int64  `json:"connectedAt"`
	Session     string `json:"session,omitempty"`
}

type ClientsMsg struct {
	Type string          `json:"type"`
	List []ClientSummary `json:"list"`
}

type ClientKickedMsg struct {
	Type     string `json:"type"`
	ClientID int    `json:"clientId"`
}

// Marshal is a convenience wrapper so callers don't sprinkle
// json.Marshal/must-ignore-error boilerplate across the connection layer.
func Marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Every payload above is a plain struct of strings/ints/bools;
		// marshalling can only fail on those if a field is misused
		// (e.g. NaN float), which is a programmer error, not a runtime one.
		panic("wire: marshal failed: " + err.Error())
	}
	return data
}
