package telemetry

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	socketBufferSize  = 1024
	messageBufferSize = 10
	forwardBufferSize = 16
)

var upgrader = &websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize}

// Room streams records as JSON to every connected websocket client.
type Room struct {
	// forward holds messages for the clients.
	forward chan []byte
	join    chan *client
	leave   chan *client
	clients map[*client]bool
	done    chan struct{}

	decimate, n int
	logger      *zap.Logger
}

// NewRoom returns a room that forwards every decimate-th record.
func NewRoom(decimate int, logger *zap.Logger) *Room {
	if decimate < 1 {
		decimate = 1
	}
	return &Room{
		forward:  make(chan []byte, forwardBufferSize),
		join:     make(chan *client),
		leave:    make(chan *client),
		clients:  make(map[*client]bool),
		done:     make(chan struct{}),
		decimate: decimate,
		logger:   logger.Named("room"),
	}
}

// Run serves the room until ctx is done, then disconnects every client.
func (r *Room) Run(ctx context.Context) error {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			for c := range r.clients {
				delete(r.clients, c)
				close(c.send)
			}
			return nil
		case c := <-r.join:
			r.clients[c] = true
			r.logger.Info("client joined", zap.Int("clients", len(r.clients)))
		case c := <-r.leave:
			if r.clients[c] {
				delete(r.clients, c)
				close(c.send)
				r.logger.Info("client left", zap.Int("clients", len(r.clients)))
			}
		case msg := <-r.forward:
			for c := range r.clients {
				select {
				case c.send <- msg:
				default:
					r.logger.Debug("client is behind, dropping message")
				}
			}
		}
	}
}

// Write implements Sink. Records are dropped rather than queued when the
// room is behind.
func (r *Room) Write(rec Record) error {
	r.n++
	if r.n%r.decimate != 0 {
		return nil
	}
	msg, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "error encoding record")
	}
	select {
	case r.forward <- msg:
	default:
	}
	return nil
}

// Close implements Sink.
func (r *Room) Close() error {
	return nil
}

func (r *Room) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	socket, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		socket: socket,
		send:   make(chan []byte, messageBufferSize),
	}
	select {
	case r.join <- c:
	case <-r.done:
		socket.Close()
		return
	}
	defer func() {
		select {
		case r.leave <- c:
		case <-r.done:
		}
	}()
	go c.write()
	c.read()
}

// client is one websocket connection.
type client struct {
	socket *websocket.Conn
	// send is closed by the room when the client leaves.
	send chan []byte
}

// read discards incoming messages until the connection fails.
func (c *client) read() {
	for {
		if _, _, err := c.socket.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) write() {
	defer c.socket.Close()
	for msg := range c.send {
		if err := c.socket.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
