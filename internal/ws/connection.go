package ws

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is a single WebSocket client with its transport metadata and
// a write mutex serializing outbound frames.
type Connection struct {
	ID         string     // connection id (UUID), also the core registry key
	Conn       net.Conn   // underlying TCP connection
	Fd         int        // file descriptor for epoll lookups
	CreatedAt  time.Time  // when the connection was established
	LastPing   time.Time  // last frame or keepalive received
	writeMu    sync.Mutex // serializes writes to this connection
	processing int32      // atomic flag: 0 = idle, 1 = being read
}

// WriteMessage sends a WebSocket text frame to this connection.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// connTable is a goroutine-safe registry mapping connection ids and file
// descriptors to Connection objects, with O(1) lookups by both keys.
type connTable struct {
	mu   sync.RWMutex
	byID map[string]*Connection
	byFd map[int]*Connection
}

func newConnTable() *connTable {
	return &connTable{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a connection in both lookup maps.
func (t *connTable) Add(conn *Connection) {
	t.mu.Lock()
	t.byID[conn.ID] = conn
	t.byFd[conn.Fd] = conn
	t.mu.Unlock()
}

// Remove deletes the connection by id and closes the socket. Returns
// false if the connection was already gone, which lets racing cleanup
// paths (read error + heartbeat timeout) detect the duplicate.
func (t *connTable) Remove(id string) bool {
	t.mu.Lock()
	conn, ok := t.byID[id]
	if ok {
		delete(t.byID, id)
		delete(t.byFd, conn.Fd)
	}
	t.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for id, or nil.
func (t *connTable) Get(id string) *Connection {
	t.mu.RLock()
	conn := t.byID[id]
	t.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for a file descriptor, or nil.
func (t *connTable) GetByFd(fd int) *Connection {
	t.mu.RLock()
	conn := t.byFd[fd]
	t.mu.RUnlock()
	return conn
}

// GetByConn resolves a net.Conn back to its Connection via the fd.
func (t *connTable) GetByConn(c net.Conn) *Connection {
	return t.GetByFd(socketFD(c))
}

// Count returns the number of active connections.
func (t *connTable) Count() int {
	t.mu.RLock()
	n := len(t.byID)
	t.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections.
func (t *connTable) All() []*Connection {
	t.mu.RLock()
	conns := make([]*Connection, 0, len(t.byID))
	for _, conn := range t.byID {
		conns = append(conns, conn)
	}
	t.mu.RUnlock()
	return conns
}
