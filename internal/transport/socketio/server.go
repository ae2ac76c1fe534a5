// Package socketio provides the Socket.io push channel for status
// snapshots, so dashboards get the tick heartbeat without polling the
// shared store.
package socketio

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/edumarques81/jukeboxd/internal/player"
)

const (
	// maxSubscribers caps concurrent dashboard connections. The oldest
	// subscriber is evicted when the cap is exceeded.
	maxSubscribers = 16

	// broadcastWindow collapses snapshot bursts into one emit.
	broadcastWindow = 100 * time.Millisecond
)

// Server handles Socket.io connections and broadcasts player status.
type Server struct {
	io        *socket.Server
	limiter   *ClientLimiter
	debouncer *BroadcastDebouncer

	mu      sync.RWMutex
	clients map[string]*socket.Socket
	latest  map[string]string
}

// NewServer creates a new Socket.io server.
func NewServer() (*Server, error) {
	opts := socket.DefaultServerOptions()
	opts.SetPingTimeout(20 * time.Second)
	opts.SetPingInterval(25 * time.Second)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		io:      socket.NewServer(nil, opts),
		limiter: NewClientLimiter(maxSubscribers),
		clients: make(map[string]*socket.Socket),
	}
	s.debouncer = NewBroadcastDebouncer(broadcastWindow, s.emitLatest)

	s.setupHandlers()

	return s, nil
}

// setupHandlers registers the Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())

		log.Info().Str("id", clientID).Msg("Client connected")

		if evictedID := s.limiter.Add(clientID); evictedID != "" {
			s.evict(evictedID)
		}

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		// a fresh client gets the last snapshot right away instead of
		// waiting out the remainder of the current tick
		s.pushStatus(client)

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.limiter.Remove(clientID)

			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
		})

		client.On("getStatus", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getStatus")
			s.pushStatus(client)
		})
	})
}

// evict disconnects the oldest subscriber to make room for a new one.
func (s *Server) evict(clientID string) {
	s.mu.Lock()
	client, ok := s.clients[clientID]
	delete(s.clients, clientID)
	s.mu.Unlock()

	if !ok {
		return
	}
	log.Warn().Str("id", clientID).Msg("Evicting oldest subscriber")
	client.Disconnect(true)
}

// pushStatus sends the latest snapshot to one client.
func (s *Server) pushStatus(client *socket.Socket) {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()

	if latest == nil {
		return
	}
	client.Emit("pushStatus", latest)
}

// emitLatest broadcasts the retained snapshot to all connected clients.
func (s *Server) emitLatest() {
	s.mu.RLock()
	latest := s.latest
	clientCount := len(s.clients)
	s.mu.RUnlock()

	if latest == nil {
		return
	}

	s.io.Emit("pushStatus", latest)

	if clientCount > 0 {
		log.Debug().Int("clients", clientCount).Str("actual_state", latest["actual_state"]).Msg("Broadcast status")
	}
}

// BroadcastStatus publishes a snapshot to all connected clients and
// retains it for late joiners. Bursts within the debounce window
// collapse into a single emit. Safe to call with no clients connected.
func (s *Server) BroadcastStatus(status player.Status) {
	fields := status.Fields()

	s.mu.Lock()
	s.latest = fields
	s.mu.Unlock()

	s.debouncer.Trigger()
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close closes the Socket.io server.
func (s *Server) Close() error {
	s.debouncer.Stop()
	s.io.Close(nil)
	return nil
}
