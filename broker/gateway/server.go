package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rustyeddy/smc/broker"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Server exposes a broker.Broker to websocket clients. Every connected session
// receives every broker event.
type Server struct {
	b        broker.Broker
	log      *slog.Logger
	upgrader websocket.Upgrader
	timeout  time.Duration

	mu       sync.Mutex
	sessions map[*session]struct{}
}

type session struct {
	conn *websocket.Conn
	send chan response
	once sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.send)
		_ = s.conn.Close()
	})
}

func NewServer(b broker.Broker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		b:        b,
		log:      logger.With("component", "gateway-server"),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		timeout:  5 * time.Second,
		sessions: make(map[*session]struct{}),
	}
}

// Run forwards broker events to every session until ctx is done.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.CloseSessions()
			return
		case ev := <-s.b.Events():
			s.broadcast(response{Event: &ev})
		}
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "err", err)
		return
	}
	sess := &session{conn: conn, send: make(chan response, 256)}
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	s.log.Info("session opened", "remote", r.RemoteAddr)

	go s.writePump(sess)
	s.readPump(r.Context(), sess)
}

// CloseSessions drops every connected client.
func (s *Server) CloseSessions() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[*session]struct{})
	s.mu.Unlock()
	for sess := range sessions {
		sess.close()
	}
}

func (s *Server) broadcast(msg response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions {
		select {
		case sess.send <- msg:
		default:
			// A client that cannot keep up is dropped.
			delete(s.sessions, sess)
			sess.close()
		}
	}
}

func (s *Server) drop(sess *session) {
	s.mu.Lock()
	_, ok := s.sessions[sess]
	delete(s.sessions, sess)
	s.mu.Unlock()
	if ok {
		sess.close()
	}
}

func (s *Server) readPump(ctx context.Context, sess *session) {
	defer s.drop(sess)

	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req request
		if err := sess.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("session read", "err", err)
			}
			return
		}
		resp := s.handle(ctx, req)

		s.mu.Lock()
		_, live := s.sessions[sess]
		if live {
			select {
			case sess.send <- resp:
			default:
				live = false
			}
		}
		s.mu.Unlock()
		if !live {
			return
		}
	}
}

func (s *Server) writePump(sess *session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-sess.send:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sess.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handle(ctx context.Context, req request) response {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp := response{ID: req.ID}
	switch req.Op {
	case opSubmit:
		if req.Order == nil {
			resp.Error = &wireError{Kind: broker.FaultRejected, Msg: "order missing"}
			return resp
		}
		ack, err := s.b.Submit(ctx, *req.Order)
		if err != nil {
			resp.Error = toWire(err)
			return resp
		}
		resp.Ack = &ack
	case opCancel:
		resp.Error = toWire(s.b.Cancel(ctx, req.Ref))
	case opStatus:
		st, err := s.b.QueryStatus(ctx, req.Ref)
		if err != nil {
			resp.Error = toWire(err)
			return resp
		}
		resp.Status = &st
	default:
		resp.Error = &wireError{Kind: broker.FaultRejected, Msg: "unknown op " + req.Op}
	}
	return resp
}
