package transport

import (
	"errors"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// DeviceChannel is the opaque data channel of the companion tracking device.
// Pairing, reconnection and firmware transfer are owned by the companion
// app; this core only moves bytes through the channel.
type DeviceChannel interface {
	// Connected reports whether the radio link is live.
	Connected() bool
	// SendOpaqueBytes hands one encoded frame to the device. Fire and
	// forget: there is no delivery acknowledgment.
	SendOpaqueBytes(data []byte) error
	// Notify registers fn for every custom-data frame the device emits
	// and returns a cancel func that deregisters it.
	Notify(fn func(data []byte)) (cancel func())
}

var ErrDeviceDisconnected = errors.New("companion device is not connected")

// WSDeviceChannel reaches the tracker through the companion app's local
// websocket bridge. Binary messages map 1:1 onto opaque device frames.
type WSDeviceChannel struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	subMu  sync.RWMutex
	nextID int
	subs   map[int]func([]byte)
}

// DialDevice connects to the bridge and starts the read loop.
func DialDevice(bridgeURL string) (*WSDeviceChannel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(bridgeURL, nil)
	if err != nil {
		return nil, err
	}

	ch := &WSDeviceChannel{
		conn:      conn,
		connected: true,
		subs:      make(map[int]func([]byte)),
	}
	go ch.readLoop()
	log.Printf("device channel connected bridge=%s", bridgeURL)
	return ch, nil
}

func (c *WSDeviceChannel) readLoop() {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Printf("device channel closed: %v", err)
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		c.subMu.RLock()
		for _, fn := range c.subs {
			fn(data)
		}
		c.subMu.RUnlock()
	}
}

func (c *WSDeviceChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *WSDeviceChannel) SendOpaqueBytes(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrDeviceDisconnected
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *WSDeviceChannel) Notify(fn func(data []byte)) (cancel func()) {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

// Close shuts the bridge connection down.
func (c *WSDeviceChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return c.conn.Close()
}

// NoDevice is a permanently disconnected device channel, used when no
// companion bridge is configured.
type NoDevice struct{}

func (NoDevice) Connected() bool                   { return false }
func (NoDevice) SendOpaqueBytes(data []byte) error { return ErrDeviceDisconnected }
func (NoDevice) Notify(fn func(data []byte)) (cancel func()) {
	return func() {}
}
