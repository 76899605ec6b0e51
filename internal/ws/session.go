package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// session adapts a gorilla connection to realtime.Session. gorilla permits a
// single concurrent writer, so sends are serialized under the mutex; fan-out
// from other users' event loops lands here concurrently.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newSession(conn *websocket.Conn) *session {
	return &session{conn: conn}
}

func (s *session) Send(event any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(event)
}
