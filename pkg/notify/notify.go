// Package notify implements the distributed-notification events the
// session controller posts for any subscribed GUI/agent process to
// observe (spec.md §6). A real macOS distributed-notification center
// requires CGo; this implementation broadcasts the same named events
// over a Unix domain socket at a well-known path instead, so any
// number of listeners can subscribe without a compiled-in Objective-C
// bridge.
package notify

import (
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/fleetupdate/agent/pkg/logging"
)

// Event names, matching spec.md §6's distributed-notification list.
const (
	EventUpdatesChanged     = "com.fleetupdate.agent.updateschanged"
	EventDockUpdatesChanged = "com.fleetupdate.agent.dock.updateschanged"
	EventStarted            = "com.fleetupdate.agent.started"
	EventEnded              = "com.fleetupdate.agent.ended"
	EventLogoutWarn         = "com.fleetupdate.agent.logoutwarn"
	EventStatusUpdate       = "com.fleetupdate.agent.statusUpdate"
)

// Command is the statusUpdate payload's optional command field.
type Command string

const (
	CommandActivate          Command = "activate"
	CommandShowRestartAlert  Command = "showRestartAlert"
	CommandQuit              Command = "quit"
)

// Message is the wire format for one posted notification.
type Message struct {
	Event              string  `json:"event"`
	PID                int     `json:"pid"`
	StatusMessage      string  `json:"message,omitempty"`
	Detail             string  `json:"detail,omitempty"`
	Percent            int     `json:"percent,omitempty"`
	StopButtonVisible  bool    `json:"stop_button_visible,omitempty"`
	StopButtonEnabled  bool    `json:"stop_button_enabled,omitempty"`
	Command            Command `json:"command,omitempty"`
}

const socketPath = "/private/tmp/com.fleetupdate.agent.notify.sock"

// Center manages subscriber connections and fans out posted messages.
type Center struct {
	mu       sync.Mutex
	listener net.Listener
	subs     map[net.Conn]struct{}
}

// NewCenter starts listening on the well-known socket path. Any
// stale socket from a previous crashed session is removed first.
func NewCenter() (*Center, error) {
	os.Remove(socketPath)
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	c := &Center{listener: l, subs: make(map[net.Conn]struct{})}
	go c.acceptLoop()
	return c, nil
}

func (c *Center) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			return
		}
		c.mu.Lock()
		c.subs[conn] = struct{}{}
		c.mu.Unlock()
	}
}

// Post broadcasts msg to every connected subscriber. PID is filled in
// automatically. Delivery is best-effort: a write failure drops that
// subscriber silently, matching the fire-and-forget semantics of a
// real distributed-notification post.
func (c *Center) Post(msg Message) {
	msg.PID = os.Getpid()
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Debug("notify: failed to marshal message", "error", err)
		return
	}
	data = append(data, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	for conn := range c.subs {
		if _, err := conn.Write(data); err != nil {
			conn.Close()
			delete(c.subs, conn)
		}
	}
}

// Close stops accepting subscribers and removes the socket file.
func (c *Center) Close() {
	c.mu.Lock()
	for conn := range c.subs {
		conn.Close()
	}
	c.subs = nil
	c.mu.Unlock()
	if c.listener != nil {
		c.listener.Close()
	}
	os.Remove(socketPath)
}

// Subscribe connects to a running Center's socket as a listener
// (used by GUI/agent processes, not the session controller itself).
func Subscribe() (net.Conn, error) {
	return net.Dial("unix", socketPath)
}
