package ws

import (
	"log"

	"github.com/strangr/chat-server/internal/protocol"
)

// Notifier translates core outbound events into protocol messages sent
// over the WebSocket transport. It implements core.Notifier. Send
// failures are logged and dropped; a dead socket is cleaned up by the
// read path or the heartbeat.
type Notifier struct {
	server *Server
}

// NewNotifier returns a Notifier bound to the given server.
func NewNotifier(server *Server) *Notifier {
	return &Notifier{server: server}
}

func (n *Notifier) send(id, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("ws: failed to build %s for %s: %v", msgType, id, err)
		return
	}
	if err := n.server.SendMessage(id, data); err != nil {
		log.Printf("ws: failed to send %s to %s: %v", msgType, id, err)
	}
}

// Matched notifies a participant that a session opened.
func (n *Notifier) Matched(id, sessionID string) {
	n.send(id, protocol.TypeMatched, protocol.MatchedMsg{SessionID: sessionID})
}

// ChatMessage delivers a relayed partner message.
func (n *Notifier) ChatMessage(id, text string, ts int64) {
	n.send(id, protocol.TypeMessage, protocol.ServerChatMsg{Text: text, Ts: ts})
}

// Typing delivers the partner's typing signal.
func (n *Notifier) Typing(id string) {
	n.send(id, protocol.TypeTyping, protocol.TypingMsg{})
}

// StopTyping delivers the partner's stop-typing signal.
func (n *Notifier) StopTyping(id string) {
	n.send(id, protocol.TypeStopTyping, protocol.StopTypingMsg{})
}

// StrangerNickname delivers the partner's display name.
func (n *Notifier) StrangerNickname(id, name string) {
	n.send(id, protocol.TypeStrangerNickname, protocol.StrangerNicknameMsg{Nickname: name})
}

// StrangerDisconnected tells the remaining participant the partner left.
func (n *Notifier) StrangerDisconnected(id string) {
	n.send(id, protocol.TypeStrangerDisconnected, protocol.StrangerDisconnectedMsg{})
}

// QueueUpdate delivers waiting-queue feedback.
func (n *Notifier) QueueUpdate(id string, position, waiting int) {
	n.send(id, protocol.TypeQueueUpdate, protocol.QueueUpdateMsg{Position: position, Waiting: waiting})
}
