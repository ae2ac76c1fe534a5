package mpv

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeEngine speaks the engine's side of the IPC protocol over a unix
// socket: it records every received message and answers through a
// caller-supplied responder.
type fakeEngine struct {
	ln net.Listener

	mu       sync.Mutex
	received []map[string]any
	respond  func(msg map[string]any) []string
}

func (f *fakeEngine) serve() {
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var msg map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}

		f.mu.Lock()
		f.received = append(f.received, msg)
		responder := f.respond
		f.mu.Unlock()

		if responder != nil {
			for _, line := range responder(msg) {
				if _, err := conn.Write([]byte(line + "\n")); err != nil {
					return
				}
			}
		}
	}
}

func (f *fakeEngine) lastReceived(t *testing.T) map[string]any {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		n := len(f.received)
		var last map[string]any
		if n > 0 {
			last = f.received[n-1]
		}
		f.mu.Unlock()

		if last != nil {
			return last
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("fake engine received no message")
	return nil
}

// newTestClient wires a client to a fake engine without spawning a
// process, exercising the real socket transport and reader.
func newTestClient(t *testing.T) (*Client, *fakeEngine) {
	t.Helper()

	sock := filepath.Join(t.TempDir(), "mpv.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	engine := &fakeEngine{ln: ln}
	go engine.serve()

	client := NewClient(Config{SocketPath: sock})
	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client.attach(conn)

	t.Cleanup(func() {
		client.markDisconnected()
		ln.Close()
	})

	return client, engine
}

// replyTo builds a responder answering get_property requests from a
// value table, echoing the caller's request_id.
func replyTo(values map[string]any) func(msg map[string]any) []string {
	return func(msg map[string]any) []string {
		cmd, _ := msg["command"].([]any)
		if len(cmd) < 2 || cmd[0] != "get_property" {
			return nil
		}
		name, _ := cmd[1].(string)

		reply := map[string]any{
			"request_id": msg["request_id"],
		}
		if v, ok := values[name]; ok {
			reply["error"] = "success"
			reply["data"] = v
		} else {
			reply["error"] = "property unavailable"
		}
		data, _ := json.Marshal(reply)
		return []string{string(data)}
	}
}

func TestGetPropertyCorrelatesReply(t *testing.T) {
	client, engine := newTestClient(t)
	engine.respond = replyTo(map[string]any{"volume": float64(50), "pause": true})

	v, ok := client.GetProperty("volume")
	if !ok {
		t.Fatal("expected a known value")
	}
	if v != float64(50) {
		t.Errorf("volume = %v, want 50", v)
	}

	v, ok = client.GetProperty("pause")
	if !ok || v != true {
		t.Errorf("pause = %v (ok=%v), want true", v, ok)
	}
}

func TestGetPropertyIgnoresNoiseBeforeReply(t *testing.T) {
	client, engine := newTestClient(t)
	engine.respond = func(msg map[string]any) []string {
		reply, _ := json.Marshal(map[string]any{
			"request_id": msg["request_id"],
			"error":      "success",
			"data":       float64(3.25),
		})
		return []string{
			`{"event":"property-change","name":"time-pos"}`, // unsolicited
			`this is not json`,                              // malformed
			string(reply),
		}
	}

	v, ok := client.GetProperty("time-pos")
	if !ok {
		t.Fatal("reply after noise should still be delivered")
	}
	if v != float64(3.25) {
		t.Errorf("time-pos = %v, want 3.25", v)
	}
}

func TestGetPropertyTimeoutReturnsUnknown(t *testing.T) {
	client, engine := newTestClient(t)
	engine.respond = nil // never answer

	start := time.Now()
	_, ok := client.GetProperty("volume")
	if ok {
		t.Error("unanswered request should read as unknown")
	}
	if elapsed := time.Since(start); elapsed > 2*propertyTimeout {
		t.Errorf("timeout took %v, want about %v", elapsed, propertyTimeout)
	}

	// the stale id must not linger
	client.mu.Lock()
	pending := len(client.pending)
	client.mu.Unlock()
	if pending != 0 {
		t.Errorf("pending requests after timeout = %d, want 0", pending)
	}
}

func TestGetPropertyErrorReplyIsUnknown(t *testing.T) {
	client, engine := newTestClient(t)
	engine.respond = replyTo(map[string]any{}) // everything unavailable

	if _, ok := client.GetProperty("duration"); ok {
		t.Error("an error reply should read as unknown")
	}
}

func TestCommandFraming(t *testing.T) {
	tests := []struct {
		name string
		call func(c *Client) error
		want []any
	}{
		{
			name: "load",
			call: func(c *Client) error { return c.Load("http://api/stream/7.flac") },
			want: []any{"loadfile", "http://api/stream/7.flac", "replace"},
		},
		{
			name: "stop",
			call: func(c *Client) error { return c.Stop() },
			want: []any{"stop"},
		},
		{
			name: "pause on",
			call: func(c *Client) error { return c.SetPause(true) },
			want: []any{"set_property", "pause", true},
		},
		{
			name: "volume",
			call: func(c *Client) error { return c.SetVolume(70) },
			want: []any{"set_property", "volume", float64(70)},
		},
		{
			name: "volume clamped high",
			call: func(c *Client) error { return c.SetVolume(150) },
			want: []any{"set_property", "volume", float64(100)},
		},
		{
			name: "volume clamped low",
			call: func(c *Client) error { return c.SetVolume(-3) },
			want: []any{"set_property", "volume", float64(0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, engine := newTestClient(t)

			if err := tt.call(client); err != nil {
				t.Fatalf("command failed: %v", err)
			}

			msg := engine.lastReceived(t)
			cmd, ok := msg["command"].([]any)
			if !ok {
				t.Fatalf("message carries no command array: %v", msg)
			}
			if len(cmd) != len(tt.want) {
				t.Fatalf("command = %v, want %v", cmd, tt.want)
			}
			for i := range tt.want {
				if cmd[i] != tt.want[i] {
					t.Errorf("command[%d] = %v, want %v", i, cmd[i], tt.want[i])
				}
			}
			if _, hasID := msg["request_id"]; hasID {
				t.Error("fire-and-forget commands must not carry a request_id")
			}
		})
	}
}

func TestDisconnectWakesPendingReads(t *testing.T) {
	client, engine := newTestClient(t)
	engine.respond = nil

	done := make(chan bool, 1)
	go func() {
		_, ok := client.GetProperty("volume")
		done <- ok
	}()

	// let the request land, then kill the connection
	engine.lastReceived(t)
	engine.ln.Close()
	client.mu.Lock()
	conn := client.conn
	client.mu.Unlock()
	conn.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("read during disconnect should be unknown")
		}
	case <-time.After(2 * propertyTimeout):
		t.Error("pending read was not woken by the disconnect")
	}

	if client.Running() {
		t.Error("client should report not running after disconnect")
	}
}

func TestClientNotStarted(t *testing.T) {
	client := NewClient(Config{SocketPath: "/tmp/nonexistent.sock"})

	if client.Running() {
		t.Error("unstarted client should not report running")
	}
	if _, ok := client.GetProperty("volume"); ok {
		t.Error("property read without a connection should be unknown")
	}
	if err := client.Load("http://x"); err == nil {
		t.Error("Load should fail when not connected")
	}
	if err := client.Stop(); err == nil {
		t.Error("Stop should fail when not connected")
	}
}

func TestStartFailsWhenBinaryMissing(t *testing.T) {
	client := NewClient(Config{
		BinPath:    "definitely-not-a-real-mpv-binary",
		SocketPath: filepath.Join(t.TempDir(), "mpv.sock"),
	})

	if err := client.Start(); err == nil {
		t.Error("Start should fail when the engine binary cannot be spawned")
	}
}
