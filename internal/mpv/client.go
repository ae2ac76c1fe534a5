// Package mpv manages the external mpv playback engine: process
// lifecycle and the JSON IPC protocol over its unix socket.
package mpv

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// connection retries while waiting for mpv to create its socket
	connectAttempts = 50
	connectBackoff  = 100 * time.Millisecond

	// how long a property read waits for its correlated reply
	propertyTimeout = 500 * time.Millisecond

	// grace period between the polite quit and a forced kill
	quitGrace = 500 * time.Millisecond
)

// Config holds the engine spawn parameters.
type Config struct {
	BinPath    string // mpv executable, defaults to "mpv" on PATH
	SocketPath string // unix socket for --input-ipc-server
	Volume     int    // startup volume 0-100
	CacheSecs  int    // read-ahead buffer in seconds
}

// Client is the IPC client for one mpv process. Outbound messages are
// newline-terminated JSON objects; replies are correlated to requests
// by a caller-assigned request_id. The background reader is the only
// goroutine touching the socket's read side.
//
// The client never restarts itself after an engine death; restart
// policy belongs to the caller.
type Client struct {
	cfg Config

	mu      sync.Mutex
	conn    net.Conn
	cmd     *exec.Cmd
	nextID  int64
	pending map[int64]chan map[string]any
	alive   bool
	closing bool
	exited  chan struct{}
}

// NewClient creates a client for the given configuration. The engine
// process is not spawned until Start.
func NewClient(cfg Config) *Client {
	if cfg.BinPath == "" {
		cfg.BinPath = "mpv"
	}
	return &Client{cfg: cfg}
}

// Start spawns the engine process, waits for its IPC socket and
// launches the reader. It is a no-op when the engine is already
// running, and may be called again after an engine death.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.alive {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// a stale socket file from a previous run blocks mpv
	_ = os.Remove(c.cfg.SocketPath)

	args := []string{
		"--no-video",
		"--idle=yes",
		"--force-window=no",
		"--input-ipc-server=" + c.cfg.SocketPath,
		"--volume=" + strconv.Itoa(c.cfg.Volume),
		"--audio-client-name=jukebox",
		"--ytdl=no",
		"--term-status-msg=",
		"--cache=yes",
		"--cache-secs=" + strconv.Itoa(c.cfg.CacheSecs),
		"--gapless-audio=yes",
	}

	cmd := exec.Command(c.cfg.BinPath, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning %s: %w", c.cfg.BinPath, err)
	}
	log.Info().Int("pid", cmd.Process.Pid).Str("socket", c.cfg.SocketPath).Msg("Engine started")

	conn, err := c.dial()
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return err
	}

	c.attach(conn)

	exited := make(chan struct{})
	c.mu.Lock()
	c.cmd = cmd
	c.closing = false
	c.exited = exited
	c.mu.Unlock()

	go func() {
		err := cmd.Wait()
		close(exited)

		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if !closing {
			log.Warn().Err(err).Msg("Engine process exited unexpectedly")
		}
		c.markDisconnected()
	}()

	return nil
}

// attach takes ownership of an established IPC connection and starts
// the reader. Split out from Start so the protocol layer is testable
// against an in-process fake engine.
func (c *Client) attach(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.pending = make(map[int64]chan map[string]any)
	c.alive = true
	c.mu.Unlock()

	go c.reader(conn)
}

func (c *Client) dial() (net.Conn, error) {
	var lastErr error
	for i := 0; i < connectAttempts; i++ {
		conn, err := net.Dial("unix", c.cfg.SocketPath)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(connectBackoff)
	}
	return nil, fmt.Errorf("engine IPC socket never became connectable: %w", lastErr)
}

// reader parses complete JSON lines from the socket. Replies carrying a
// request_id are handed to the waiting caller; unsolicited events and
// malformed lines are dropped.
func (c *Client) reader(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var msg map[string]any
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Debug().Err(err).Msg("Discarding malformed IPC line")
			continue
		}

		id, ok := requestID(msg)
		if !ok {
			continue // unsolicited event
		}

		c.mu.Lock()
		ch, waiting := c.pending[id]
		if waiting {
			delete(c.pending, id)
		}
		c.mu.Unlock()

		if waiting {
			ch <- msg
		}
	}

	c.markDisconnected()
}

// markDisconnected flags the client dead and wakes every pending
// property read so callers fail fast instead of waiting out their
// timeouts.
func (c *Client) markDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		return
	}
	c.alive = false

	if c.conn != nil {
		_ = c.conn.Close()
	}
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

// Running reports whether the engine process is up and its socket
// connected.
func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// Load replaces the engine's current file with the given URL.
func (c *Client) Load(url string) error {
	return c.command("loadfile", url, "replace")
}

// Stop stops playback and returns the engine to idle.
func (c *Client) Stop() error {
	return c.command("stop")
}

// SetPause sets the engine pause flag.
func (c *Client) SetPause(paused bool) error {
	return c.command("set_property", "pause", paused)
}

// SetVolume sets the engine volume, clamped to 0-100.
func (c *Client) SetVolume(vol int) error {
	if vol < 0 {
		vol = 0
	} else if vol > 100 {
		vol = 100
	}
	return c.command("set_property", "volume", vol)
}

// GetProperty reads an engine property, blocking the caller (but never
// the reader) until the correlated reply arrives or the timeout
// elapses. ok is false when the value is unknown: reply timeout,
// protocol error, or dead engine.
func (c *Client) GetProperty(name string) (any, bool) {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return nil, false
	}
	c.nextID++
	id := c.nextID
	ch := make(chan map[string]any, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	payload := map[string]any{
		"command":    []any{"get_property", name},
		"request_id": id,
	}
	if err := c.send(payload); err != nil {
		c.forget(id)
		log.Debug().Err(err).Str("property", name).Msg("Property request failed")
		return nil, false
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, false // disconnected while waiting
		}
		if errStr, _ := reply["error"].(string); errStr != "" && errStr != "success" {
			return nil, false
		}
		return reply["data"], true

	case <-time.After(propertyTimeout):
		c.forget(id)
		log.Debug().Str("property", name).Msg("Property read timed out")
		return nil, false
	}
}

// Shutdown quits the engine politely, kills it if it lingers, and
// releases the socket.
func (c *Client) Shutdown() {
	c.mu.Lock()
	c.closing = true
	cmd := c.cmd
	exited := c.exited
	c.mu.Unlock()

	_ = c.command("quit")

	if cmd != nil && exited != nil {
		select {
		case <-exited:
		case <-time.After(quitGrace):
			log.Warn().Msg("Engine did not quit in time, killing")
			_ = cmd.Process.Kill()
			<-exited
		}
	}

	c.markDisconnected()
	_ = os.Remove(c.cfg.SocketPath)
	log.Info().Msg("Engine shut down")
}

// command sends a fire-and-forget array-style directive.
func (c *Client) command(parts ...any) error {
	return c.send(map[string]any{"command": parts})
}

func (c *Client) send(payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding IPC message: %w", err)
	}
	data = append(data, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive || c.conn == nil {
		return fmt.Errorf("engine IPC not connected")
	}
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("writing IPC message: %w", err)
	}
	return nil
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func requestID(msg map[string]any) (int64, bool) {
	switch v := msg["request_id"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}
