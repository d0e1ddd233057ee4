package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 4096
	defaultQueue   = 64
)

// WSSubscriber adapts a websocket connection to Subscriber. Events are
// queued and written by a single write pump; Send fails when the queue does
// not accept the event before ctx is done or after the connection closed.
type WSSubscriber struct {
	id     string
	conn   *websocket.Conn
	out    chan Event
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func NewWSSubscriber(conn *websocket.Conn, queueSize int, logger *slog.Logger) *WSSubscriber {
	if queueSize <= 0 {
		queueSize = defaultQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &WSSubscriber{
		id:     uuid.NewString(),
		conn:   conn,
		out:    make(chan Event, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.writePump()
	return s
}

func (s *WSSubscriber) ID() string { return s.id }

func (s *WSSubscriber) Send(ctx context.Context, ev Event) error {
	select {
	case <-s.done:
		return ErrSendFailed
	default:
	}
	select {
	case s.out <- ev:
		return nil
	case <-s.done:
		return ErrSendFailed
	case <-ctx.Done():
		return ErrSendFailed
	}
}

// Done is closed once the connection is gone.
func (s *WSSubscriber) Done() <-chan struct{} { return s.done }

func (s *WSSubscriber) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// ReadPump consumes client frames until the client disconnects or stops
// answering pings, then closes the subscriber. It blocks; run it on the
// connection's own goroutine.
func (s *WSSubscriber) ReadPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxInboundSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("feed client read error", "subscriber", s.id, "error", err)
			}
			return
		}
	}
}

func (s *WSSubscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case ev := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				s.logger.Debug("feed client write error", "subscriber", s.id, "error", err)
				_ = s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = s.Close()
				return
			}
		}
	}
}
