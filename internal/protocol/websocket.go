package protocol

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

type wsStream struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// NewWebSocketStream uses one websocket message per protocol message
func NewWebSocketStream(conn *websocket.Conn) MessageStream {
	return &wsStream{conn: conn}
}

func (s *wsStream) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (s *wsStream) WriteMessage(msg []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *wsStream) Close() error {
	s.wmu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.wmu.Unlock()
	return s.conn.Close()
}

// DialWebSocket connects to a server started with a websocket listener
func DialWebSocket(ctx context.Context, url string) (MessageStream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocketStream(conn), nil
}

// WebSocketHandler upgrades every request and hands the stream to serve, which owns it
func WebSocketHandler(serve func(MessageStream)) http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serve(NewWebSocketStream(conn))
	})
}
