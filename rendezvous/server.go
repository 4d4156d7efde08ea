package rendezvous

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cvsouth/daphne/usercode"
)

// maxConns bounds the number of simultaneously handled connections, per
// socks.Server's own maxConns discipline.
const maxConns = 1024

// perIPRate and perIPBurst bound how often a single source IP may open
// new rendezvous connections, so that a script hammering CreateRoom can't
// exhaust the room id space or the server's goroutine budget.
const (
	perIPRate  = 2 // new connections per second
	perIPBurst = 10
)

// connDeadline bounds how long any single step of the control dialogue
// (read a message, write a reply) may take before the connection is
// dropped.
const connDeadline = 30 * time.Second

// Server is the TLS rendezvous matchmaker: it allocates rooms on
// CreateRoom, accumulates SendContact reports into each room's slots, and
// delivers SharePeerContacts to both connections once both have sent
// DoneSending.
type Server struct {
	Logger *slog.Logger

	mu    sync.Mutex
	rooms map[usercode.RoomID]*Room

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	ln  net.Listener
	sem chan struct{}
}

// NewServer constructs a Server. logger may be nil, in which case
// slog.Default() is used.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Logger:   logger,
		rooms:    make(map[usercode.RoomID]*Room),
		limiters: make(map[string]*rate.Limiter),
		sem:      make(chan struct{}, maxConns),
	}
}

// Serve accepts TLS connections on ln until ln is closed or ctx is
// cancelled, handling each on its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.ln = ln
	s.Logger.Info("rendezvous server listening", "addr", ln.Addr().String())
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("rendezvous: accept: %w", err)
			}
		}
		if !s.allow(conn.RemoteAddr()) {
			s.Logger.Debug("rendezvous: rate limit rejected connection", "addr", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}
		s.sem <- struct{}{}
		go func() {
			defer func() { <-s.sem }()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) allow(addr net.Addr) bool {
	host := addr.String()
	if tcp, ok := addr.(*net.TCPAddr); ok {
		host = tcp.IP.String()
	}
	s.limMu.Lock()
	lim, ok := s.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(perIPRate), perIPBurst)
		s.limiters[host] = lim
	}
	s.limMu.Unlock()
	return lim.Allow()
}

func (s *Server) createRoom() (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for attempt := 0; attempt < 16; attempt++ {
		id, err := usercode.NewRoomID()
		if err != nil {
			return nil, fmt.Errorf("rendezvous: generate room id: %w", err)
		}
		if _, collision := s.rooms[id]; collision {
			s.Logger.Debug("rendezvous: room id collision, retrying", "room_id", id)
			continue
		}
		room := newRoom(id, func() { s.expireRoom(id) })
		s.rooms[id] = room
		return room, nil
	}
	return nil, fmt.Errorf("rendezvous: could not allocate a free room id")
}

func (s *Server) lookupRoom(id usercode.RoomID) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	return room, ok
}

// deleteRoom removes a room eagerly — on pairing completion, on protocol
// error, or on expiry — rather than waiting for its timer, so a second
// SendContact/DoneSending against a finished room sees ErrorNoSuchRoomID
// immediately instead of racing the timer.
func (s *Server) deleteRoom(id usercode.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
}

func (s *Server) expireRoom(id usercode.RoomID) {
	s.mu.Lock()
	room, ok := s.rooms[id]
	if ok {
		delete(s.rooms, id)
	}
	s.mu.Unlock()
	if ok {
		room.expire()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	sess := &session{server: s, conn: conn, logger: s.Logger.With("remote", conn.RemoteAddr())}
	sess.run(ctx)
}
