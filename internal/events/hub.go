package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"codeberg.org/mutker/pulsecore/internal/errors"
	"codeberg.org/mutker/pulsecore/internal/logger"
)

const broadcastBuffer = 64

// Hub owns the set of connected clients. All client bookkeeping happens on
// the Run goroutine.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	// writers counts running write pumps; only Run adds to it
	writers sync.WaitGroup

	count atomic.Int64
	log   logger.Logger
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, broadcastBuffer),
		done:       make(chan struct{}),
		log:        log.With("events"),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client and waits for their close frames to be written.
func (h *Hub) Run(ctx context.Context) error {
	defer func() {
		close(h.done)
		for client := range h.clients {
			h.remove(client)
		}
		h.writers.Wait()
		h.log.Debug().Msg("Hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.register:
			h.writers.Add(1)
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			h.log.Info().
				Str("remote_addr", client.remoteAddr).
				Int("total_clients", len(h.clients)).
				Msg("Client registered")

		case client := <-h.unregister:
			if h.clients[client] {
				h.remove(client)
				h.log.Info().
					Str("remote_addr", client.remoteAddr).
					Int("total_clients", len(h.clients)).
					Msg("Client unregistered")
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.log.Warn().
						Str("remote_addr", client.remoteAddr).
						Msg("Client buffer full, dropping client")
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.count.Store(int64(len(h.clients)))
}

// Publish queues event for every connected client. It never blocks: a full
// queue or a stopped hub is reported as an error.
func (h *Hub) Publish(event string, payload any) error {
	errFactory := errors.New()

	message, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		return errFactory.Wrap(ErrEncode, err)
	}

	select {
	case <-h.done:
		return errFactory.New(ErrHubClosed)
	default:
	}

	select {
	case h.broadcast <- message:
		return nil
	default:
		return errFactory.WithData(ErrHubFull, event)
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
