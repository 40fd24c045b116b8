package ws

import (
	"log"
	"time"
)

// heartbeatConfig holds heartbeat tuning parameters.
type heartbeatConfig struct {
	Interval time.Duration // how often to ping
	Timeout  time.Duration // max time to wait for activity after ping
}

func defaultHeartbeatConfig() heartbeatConfig {
	return heartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// startHeartbeat launches a background loop that pings all connections
// and evicts those with no activity within Interval + Timeout. The
// goroutine exits when the server's done channel closes.
func startHeartbeat(server *Server, config heartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				sweepConnections(server, config)
			}
		}
	}()
}

// sweepConnections removes dead connections and pings the rest. Browsers
// answer the protocol-level ping automatically with a pong, which counts
// as activity on the next read.
func sweepConnections(server *Server, config heartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range server.conns.All() {
		if now.Sub(c.LastPing) > deadline {
			log.Printf("ws: heartbeat timeout id=%s last_activity=%s ago",
				c.ID, now.Sub(c.LastPing).Round(time.Second))
			server.removeConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed id=%s: %v", c.ID, err)
			server.removeConnection(c)
		}
	}
}
