package server

import (
	"net/http"
	"time"

	"horizon-index/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// handleWebsockets is the main Hub loop. It owns the client set; all
// membership changes and fan-out go through its channels.
func (s *FastAPIServer) handleWebsockets() {
	for {
		select {
		case <-s.hubStop:
			for client := range s.clients {
				delete(s.clients, client)
				close(client.send)
			}
			s.connCount.Store(0)
			return

		case client := <-s.register:
			s.clients[client] = struct{}{}
			s.connCount.Store(int32(len(s.clients)))
			// Send initial state on connect
			if payload := s.initialPayload(); payload != nil {
				client.send <- payload
			}

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
				s.connCount.Store(int32(len(s.clients)))
			}

		case payload := <-s.broadcast:
			for client := range s.clients {
				select {
				case client.send <- payload:
				default:
					// Client too slow, disconnect to keep the hub moving
					delete(s.clients, client)
					close(client.send)
				}
			}
			s.connCount.Store(int32(len(s.clients)))
		}
	}
}

// -----------------------------------------------------------------------------

// initialPayload is what a freshly connected client receives: the latest
// snapshot plus recent history for charting. Nil until the first
// calculation completes.
func (s *FastAPIServer) initialPayload() *models.MBroadcastPayload {
	snapshot := s.Index.LastSnapshot()
	if snapshot == nil {
		return nil
	}
	return &models.MBroadcastPayload{
		Type:         "initial",
		Date:         snapshot.Date,
		Timestamp:    time.Unix(snapshot.Index.Timestamp, 0).Format(time.RFC3339),
		Index:        snapshot.Index,
		Constituents: snapshot.Constituents,
		History:      s.Index.History(100),
	}
}

// -----------------------------------------------------------------------------
// Data Exchange Interface Implementation
// -----------------------------------------------------------------------------

// Broadcast converts a snapshot to the wire payload and queues it for
// fan-out. Never blocks the caller: the queue is buffered and overflow
// is dropped with a log line.
func (s *FastAPIServer) Broadcast(snapshot *models.MIndexSnapshot) {
	if snapshot == nil {
		return
	}

	payload := &models.MBroadcastPayload{
		Type:         "eod_update",
		Date:         snapshot.Date,
		Timestamp:    time.Unix(snapshot.Index.Timestamp, 0).Format(time.RFC3339),
		Index:        snapshot.Index,
		Constituents: snapshot.Constituents,
	}

	select {
	case s.broadcast <- payload:
	default:
		s.Logger.Warning("Broadcast queue full, dropping update for %s", snapshot.Date)
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		hub:  s,
		conn: conn,
		// Buffered channel to prevent blocking the Hub loop
		send: make(chan *models.MBroadcastPayload, 16),
	}

	s.register <- client

	// Start goroutines for reading/writing
	go client.writePump()
	go client.readPump()
}
