// Package wschannel is the push transport for the Event Bus (spec §6's
// "Push channel: subscribe-by-class messages"). Adapted from
// arkeep-io-arkeep's internal/websocket.Client/Hub: the read/write pump
// split, ping/pong keepalive, and drop-on-full backpressure handling are
// kept verbatim in spirit; the topic string model is replaced by
// eventbus.Class subscriptions and the hub's internal register/unregister
// channel loop is replaced by direct eventbus.Bus subscriptions per client
// (the bus already serializes delivery, so a second single-writer loop
// would be redundant).
package wschannel

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mediaorch/orchestrator/internal/eventbus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 32
)

// upgrader performs the HTTP -> WebSocket protocol upgrade. Origin
// validation is left to the reverse proxy in front of the orchestrator.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// subscribeMessage is the inbound frame a client sends to choose its
// classes (spec §6: subscribe_metrics | subscribe_recordings |
// subscribe_scaling_alerts).
type subscribeMessage struct {
	Type string `json:"type"`
}

var subscribeTypeToClass = map[string]eventbus.Class{
	"subscribe_metrics":        eventbus.ClassMetrics,
	"subscribe_recordings":     eventbus.ClassRecordings,
	"subscribe_scaling_alerts": eventbus.ClassScaling,
}

// Client is a single connected WebSocket peer. Two goroutines run per
// client: readPump (detects disconnection, applies subscribe messages) and
// writePump (serializes outgoing events onto the wire) — gorilla/websocket
// connections are not safe for concurrent writes, so writePump is the only
// writer.
type Client struct {
	bus  *eventbus.Bus
	conn *websocket.Conn
	send chan eventbus.Event

	subs   []eventbus.Subscription
	logger *zap.Logger
}

// Upgrade upgrades an HTTP request to a WebSocket connection and returns a
// Client ready to Run. initialClasses seeds the subscription set (e.g. from
// a query parameter); further classes may be added by subscribe_* frames.
func Upgrade(bus *eventbus.Bus, w http.ResponseWriter, r *http.Request, initialClasses []eventbus.Class, logger *zap.Logger) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		bus:    bus,
		conn:   conn,
		send:   make(chan eventbus.Event, sendBufferSize),
		logger: logger.With(zap.String("remote_addr", r.RemoteAddr)),
	}
	for _, class := range initialClasses {
		c.subscribe(class)
	}
	return c, nil
}

func (c *Client) subscribe(class eventbus.Class) {
	sub := c.bus.Subscribe(class, func(ev eventbus.Event) error {
		select {
		case c.send <- ev:
			return nil
		default:
			// Backpressure: this client is too slow to keep up. Dropping the
			// event (rather than blocking the bus) is the contract spec §4.8
			// requires of every subscriber.
			c.logger.Warn("dropping event, client send buffer full", zap.String("class", string(class)))
			return nil
		}
	})
	c.subs = append(c.subs, sub)
}

// Run starts the read and write pumps and blocks until the connection
// closes.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("ws: failed to set read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg subscribeMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Warn("ws: unexpected close", zap.Error(err))
			}
			return
		}
		if class, ok := subscribeTypeToClass[msg.Type]; ok {
			c.subscribe(class)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("ws: failed to set write deadline", zap.Error(err))
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Warn("ws: write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("ws: failed to set write deadline", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("ws: ping error", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) close() {
	for _, sub := range c.subs {
		c.bus.Unsubscribe(sub)
	}
	c.conn.Close()
}
