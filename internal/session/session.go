// Package session implements the server-side PTY session engine: one
// Session per named pseudo-terminal, owning its child shell, scrollback
// ring, attached-client set, and cooperative resize arbitration. The
// registry of Sessions lives in Manager (manager.go).
package session

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/rs/zerolog"
)

const (
	// maxScrollbackBytes bounds the total size of a Session's retained
	// output. Oldest whole chunks are dropped once a new append would
	// exceed it.
	maxScrollbackBytes = 2_000_000

	// replayChunkSize bounds a single scrollback-replay output frame.
	replayChunkSize = 100_000

	// replayPacingGap is the delay between consecutive replay frames so a
	// resource-constrained receiver can drain the channel.
	replayPacingGap = 50 * time.Millisecond

	minCols = 10
	minRows = 5

	defaultCols = 80
	defaultRows = 24

	resizeCooldown = 100 * time.Millisecond

	readBufSize = 4096
)

// Client is anything the Session can push output frames to. Its identity
// is the Client value itself (a *Connection in production, a fake in
// tests) — comparisons use Go's native interface equality.
type Client interface {
	Deliver(frame []byte)
}

// Size is a client's desired terminal dimensions.
type Size struct {
	Cols int
	Rows int
}

// ExitInfo describes how a Session's child process ended.
type ExitInfo struct {
	ExitCode int
	Signal   string
}

// Session owns one PTY-backed shell process, its scrollback, and the set
// of Connections currently attached to it.
type Session struct {
	name      string
	createdAt time.Time

	mu           sync.Mutex
	ptmx         *os.File
	cmd          *exec.Cmd
	clients      map[Client]struct{}
	clientSizes  map[Client]Size
	scrollback   [][]byte
	scrollbackSz int
	lastCols     int
	lastRows     int
	lastResizeAt time.Time
	killed       bool

	baseLog zerolog.Logger
	log     zerolog.Logger

	// onExit is invoked exactly once, from the PTY reader goroutine, when
	// the child process exits (including after an explicit kill).
	onExit func(s *Session, info ExitInfo)
}

// spawn starts the login shell under a fresh PTY sized 80x24 and launches
// the reader goroutine that drains it into scrollback/broadcast.
func spawn(name string, log zerolog.Logger, onExit func(*Session, ExitInfo)) (*Session, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell, "-l")
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
		// Suppress the "no newline at end of output" partial-line marker
		// some shells print, which pollutes raw PTY capture.
		"PROMPT_EOL_MARK=",
	)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: defaultCols, Rows: defaultRows})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	s := &Session{
		name:        name,
		createdAt:   time.Now(),
		ptmx:        ptmx,
		cmd:         cmd,
		clients:     make(map[Client]struct{}),
		clientSizes: make(map[Client]Size),
		lastCols:    defaultCols,
		lastRows:    defaultRows,
		baseLog:     log,
		log:         log.With().Str("session", name).Logger(),
		onExit:      onExit,
	}

	go s.readLoop()
	return s, nil
}

// readLoop is the single reader of the PTY master; it is the sole
// producer of scrollback appends and output broadcasts, which is what
// lets ordering be reasoned about with a single per-Session mutex.
func (s *Session) readLoop() {
	buf := make([]byte, readBufSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.appendAndBroadcast(chunk)
		}
		if err != nil {
			break
		}
	}

	waitErr := s.cmd.Wait()

	s.mu.Lock()
	s.ptmx.Close()
	killed := s.killed
	s.mu.Unlock()

	info := exitInfoFrom(waitErr, killed)
	s.log.Info().Int("exitCode", info.ExitCode).Str("signal", info.Signal).Msg("session child exited")

	if s.onExit != nil {
		s.onExit(s, info)
	}
}

func exitInfoFrom(waitErr error, killed bool) ExitInfo {
	if killed {
		return ExitInfo{ExitCode: -1, Signal: "SIGTERM"}
	}
	if waitErr == nil {
		return ExitInfo{ExitCode: 0}
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return ExitInfo{ExitCode: -1, Signal: status.Signal().String()}
			}
			return ExitInfo{ExitCode: status.ExitStatus()}
		}
		return ExitInfo{ExitCode: exitErr.ExitCode()}
	}
	return ExitInfo{ExitCode: -1}
}

// appendAndBroadcast applies scrollback trimming and fans the chunk out
// to every currently-attached client. The append and the snapshot of
// recipients happen together under the Session lock, so an attaching
// client gets the chunk either in its replay or live, not both; the
// Deliver calls run after the lock is released.
func (s *Session) appendAndBroadcast(chunk []byte) {
	s.mu.Lock()
	s.appendLocked(chunk)
	recipients := make([]Client, 0, len(s.clients))
	for c := range s.clients {
		recipients = append(recipients, c)
	}
	s.mu.Unlock()

	for _, c := range recipients {
		c.Deliver(chunk)
	}
}

func (s *Session) appendLocked(chunk []byte) {
	s.scrollback = append(s.scrollback, chunk)
	s.scrollbackSz += len(chunk)
	for s.scrollbackSz > maxScrollbackBytes && len(s.scrollback) > 0 {
		head := s.scrollback[0]
		s.scrollback = s.scrollback[1:]
		s.scrollbackSz -= len(head)
	}
}

// Attach registers c as a listener and replays the current scrollback to
// it in order, split into ≤replayChunkSize slices with a pacing gap
// between them. It holds the Session lock for the full replay so the PTY
// reader cannot interleave live output with the replay (the ordering
// guarantee that attach precedes any subsequent broadcast to c). The
// replay aborts early, without error, if ctx is cancelled mid-flight.
func (s *Session) Attach(ctx context.Context, c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[c] = struct{}{}

	total := make([]byte, 0, s.scrollbackSz)
	for _, chunk := range s.scrollback {
		total = append(total, chunk...)
	}

	for off := 0; off < len(total); off += replayChunkSize {
		end := off + replayChunkSize
		if end > len(total) {
			end = len(total)
		}
		c.Deliver(total[off:end])

		if end < len(total) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(replayPacingGap):
			}
		}
	}
}

// Detach removes c from the client set and size table. If the effective
// resize minimum strictly changed as a result, Detach applies the new size
// to the PTY itself (detach recomputation is not subject to the resize
// cooldown) and returns it with changed set to true.
func (s *Session) Detach(c Client) (newCols, newRows int, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, attached := s.clients[c]
	_, sized := s.clientSizes[c]
	if !attached && !sized {
		return 0, 0, false
	}
	delete(s.clients, c)
	delete(s.clientSizes, c)

	cols, rows, ok := s.effectiveSizeLocked()
	if !ok || (cols == s.lastCols && rows == s.lastRows) {
		return 0, 0, false
	}
	s.applySizeLocked(cols, rows)
	return cols, rows, true
}

// Write sends data to the PTY master verbatim.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	ptmx := s.ptmx
	s.mu.Unlock()
	if ptmx == nil {
		return ErrDisconnected
	}
	_, err := ptmx.Write(data)
	return err
}

// Resize records c's desired size and, subject to the degenerate-size
// filter, no-op filter, and 100ms cooldown, applies the element-wise
// minimum across all registered client sizes to the PTY.
func (s *Session) Resize(c Client, cols, rows int) {
	if cols < minCols || rows < minRows {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clientSizes[c] = Size{Cols: cols, Rows: rows}

	effCols, effRows, ok := s.effectiveSizeLocked()
	if !ok {
		return
	}
	if effCols == s.lastCols && effRows == s.lastRows {
		return
	}
	if time.Since(s.lastResizeAt) < resizeCooldown {
		return
	}
	s.applySizeLocked(effCols, effRows)
}

func (s *Session) effectiveSizeLocked() (cols, rows int, ok bool) {
	for _, sz := range s.clientSizes {
		if !ok || sz.Cols < cols {
			cols = sz.Cols
		}
		if !ok || sz.Rows < rows {
			rows = sz.Rows
		}
		ok = true
	}
	return cols, rows, ok
}

func (s *Session) applySizeLocked(cols, rows int) {
	if s.ptmx != nil {
		pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	}
	s.lastCols = cols
	s.lastRows = rows
	s.lastResizeAt = time.Now()
}

// Kill sends SIGTERM to the child's process group. Manager.Kill removes
// the Session from the registry and broadcasts before the child exits, so
// the reader goroutine's onExit later finds it already removed.
func (s *Session) Kill() {
	s.mu.Lock()
	s.killed = true
	pid := 0
	if s.cmd.Process != nil {
		pid = s.cmd.Process.Pid
	}
	s.mu.Unlock()

	if pid <= 0 {
		return
	}
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
		syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		syscall.Kill(pid, syscall.SIGTERM)
	}
}

// Info is the snapshot returned by Manager.Info / included in `sessions`.
type Info struct {
	Name             string
	ClientCount      int
	CreatedAt        time.Time
	ScrollbackLength int
	IsConnected      bool
}

// Name returns the Session's current (sanitized) name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// rename updates the Session's own notion of its name; Manager is
// responsible for re-keying the registry map under its own lock.
func (s *Session) rename(newName string) {
	s.mu.Lock()
	s.name = newName
	s.log = s.baseLog.With().Str("session", newName).Logger()
	s.mu.Unlock()
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Name:             s.name,
		ClientCount:      len(s.clients),
		CreatedAt:        s.createdAt,
		ScrollbackLength: s.scrollbackSz,
		IsConnected:      s.ptmx != nil,
	}
}
