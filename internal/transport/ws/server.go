package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"temporalsmith.dev/internal/protocol"
	"temporalsmith.dev/internal/recipe/book"
	"temporalsmith.dev/internal/recipe/loader"
)

// BookSource is the part of book.Manager the sync server needs.
type BookSource interface {
	Book() *book.Book
	OnReload(book.ReloadFunc)
}

type Config struct {
	Catalogs     protocol.CatalogDigests
	WriteTimeout time.Duration
	// QueueSize bounds pending pushes per session; a session that falls
	// further behind is disconnected.
	QueueSize int
	// AllowAnyOrigin accepts browser upgrades from any Origin. Otherwise the
	// Origin host must match the request host.
	AllowAnyOrigin bool
}

type outMsg struct {
	binary bool
	data   []byte
}

type session struct {
	id     string
	out    chan outMsg
	cancel context.CancelFunc
}

type Server struct {
	books BookSource
	cfg   Config
	log   *log.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session

	frameMu sync.Mutex
	frame   struct {
		digest string
		data   []byte
	}
}

func NewServer(books BookSource, cfg Config, logger *log.Logger) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.QueueSize < 2 {
		cfg.QueueSize = 8
	}
	s := &Server{
		books: books,
		cfg:   cfg,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		sessions: map[string]*session{},
	}
	if cfg.AllowAnyOrigin {
		s.upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	books.OnReload(s.broadcast)
	return s
}

// Sessions returns the number of connected clients.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sess := s.handshake(conn, cancel)
		if sess == nil {
			return
		}
		defer s.drop(sess.id)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case m, ok := <-sess.out:
					if !ok {
						return
					}
					typ := websocket.TextMessage
					if m.binary {
						typ = websocket.BinaryMessage
					}
					_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
					if err := conn.WriteMessage(typ, m.data); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop. After HELLO a client only sends ERROR before it hangs
		// up; reading keeps control frames flowing and notices disconnects.
		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()
		for {
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			if typ == websocket.TextMessage {
				s.clientError(sess.id, msg)
			}
		}
	}
}

// handshake reads HELLO, registers the session with the current book queued
// unless the client already has it, and answers WELCOME.
func (s *Server) handshake(conn *websocket.Conn, cancel context.CancelFunc) *session {
	var hello protocol.HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	_ = conn.SetReadDeadline(time.Time{})

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		s.reject(conn, protocol.ErrProtoBadRequest, "bad HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		s.reject(conn, protocol.ErrVersion, "server speaks protocol_version "+protocol.Version)
		return nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	sess := &session{id: uuid.NewString(), out: make(chan outMsg, s.cfg.QueueSize), cancel: cancel}

	// Registering and queueing under one lock orders this push before any
	// broadcast of a later book.
	s.mu.Lock()
	bk := s.books.Book()
	if bk == nil {
		s.mu.Unlock()
		s.reject(conn, protocol.ErrNoBook, "no recipe book loaded yet")
		return nil
	}
	s.sessions[sess.id] = sess
	if hello.KnownDigest != bk.Digest() {
		frame, err := s.bookFrame(bk)
		if err != nil {
			delete(s.sessions, sess.id)
			s.mu.Unlock()
			s.logf("session %s: encode book: %v", sess.id, err)
			s.reject(conn, protocol.ErrInternal, "cannot encode recipe book")
			return nil
		}
		sess.out <- outMsg{binary: true, data: frame}
	}
	s.mu.Unlock()

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Catalogs:        s.cfg.Catalogs,
		Book:            bookRef(bk),
	}
	if err := s.writeJSON(conn, welcome); err != nil {
		s.drop(sess.id)
		return nil
	}
	s.logf("session %s: %s joined", sess.id, hello.ClientName)
	return sess
}

func (s *Server) reject(conn *websocket.Conn, code, msg string) {
	_ = s.writeJSON(conn, protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         msg,
	})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg), time.Now().Add(time.Second))
}

func (s *Server) clientError(id string, msg []byte) {
	var e protocol.ErrorMsg
	if err := json.Unmarshal(msg, &e); err != nil || e.Type != protocol.TypeError {
		return
	}
	if !protocol.IsKnownCode(e.Code) {
		e.Code = "unknown code " + e.Code
	}
	s.logf("session %s: client reported %s: %s", id, e.Code, e.Message)
}

func (s *Server) drop(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	s.logf("session %s: left", id)
}

// broadcast pushes RELOADED and the new book to every session. A session
// whose queue is full is disconnected rather than served a stale book.
func (s *Server) broadcast(bk *book.Book, b *loader.Batch) {
	frame, err := s.bookFrame(bk)
	if err != nil {
		s.logf("broadcast: encode book: %v", err)
		return
	}
	note, err := json.Marshal(protocol.ReloadedMsg{
		Type:            protocol.TypeReloaded,
		ProtocolVersion: protocol.Version,
		Book:            bookRef(bk),
		Failures:        len(b.Failures),
	})
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if len(sess.out)+2 > cap(sess.out) {
			s.logf("session %s: too slow, disconnecting", id)
			sess.cancel()
			continue
		}
		sess.out <- outMsg{data: note}
		sess.out <- outMsg{binary: true, data: frame}
	}
}

// bookFrame encodes bk once per digest.
func (s *Server) bookFrame(bk *book.Book) ([]byte, error) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	if s.frame.digest == bk.Digest() {
		return s.frame.data, nil
	}

	data, err := protocol.EncodeBookFrame(bk.Frame())
	if err != nil {
		return nil, err
	}
	s.frame.digest, s.frame.data = bk.Digest(), data
	return data, nil
}

func bookRef(bk *book.Book) protocol.BookRef {
	return protocol.BookRef{ReloadID: bk.ReloadID(), Digest: bk.Digest(), Count: bk.Len()}
}

func (s *Server) writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
