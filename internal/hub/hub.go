// Package hub is the local forwarder every gepd role connects to. It keeps a
// FIB of registered prefixes and a PIT of pending interests; data flows back
// along the PIT to every face that asked for it. There is no content store.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/gepd/gepd/common"
	"github.com/gepd/gepd/pkg/face"
	"github.com/gepd/gepd/pkg/logger"
	"github.com/gepd/gepd/pkg/ndn"
)

// Config selects where the hub listens.
type Config struct {
	// SocketPath is the unix socket; PipePath replaces it on Windows.
	SocketPath string
	PipePath   string
	// Port is the TCP fallback port on localhost.
	Port     int
	ForceTCP bool
	// MaxConns bounds concurrent faces. Zero means unbounded.
	MaxConns int
}

// DefaultConfig returns the environment-aware defaults.
func DefaultConfig() Config {
	return Config{
		SocketPath: common.SocketPath(),
		PipePath:   common.PipePath(),
		Port:       common.DEF_HUB_PORT,
		MaxConns:   common.DEF_MAX_HUB_CONNS,
	}
}

type hubFace struct {
	id   uint64
	conn *face.SyncConn
}

// Server forwards interests and data between connected faces.
type Server struct {
	log logger.Logger
	cfg Config

	mu       sync.Mutex
	listener net.Listener
	faces    map[uint64]*hubFace
	nextFace uint64
	fib      *fib
	pit      *pit
	now      func() time.Time
}

func NewServer(l logger.Logger, cfg Config) *Server {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Server{
		log:   l,
		cfg:   cfg,
		faces: make(map[uint64]*hubFace),
		fib:   newFib(),
		pit:   newPit(),
		now:   time.Now,
	}
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	l, err := s.createListener()
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts faces on l until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	if s.cfg.MaxConns > 0 {
		l = netutil.LimitListener(l, s.cfg.MaxConns)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.log.Info("Hub listening on %s", l.Addr())

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Error("Error accepting: %v", err)
			continue
		}
		go s.HandleConn(conn)
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown closes the listener and every face.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Error("Error closing listener: %v", err)
		}
		s.listener = nil
	}
	for _, f := range s.faces {
		f.conn.Close()
	}
	return cleanupSocket(s.cfg)
}

// HandleConn serves one face until its connection ends.
func (s *Server) HandleConn(conn net.Conn) {
	f := &hubFace{conn: face.NewSyncConn(conn)}
	s.mu.Lock()
	s.nextFace++
	f.id = s.nextFace
	s.faces[f.id] = f
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.faces, f.id)
		s.fib.removeFace(f.id)
		s.pit.removeFace(f.id)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		frame, err := f.conn.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Warning("Face %d: %v", f.id, err)
			}
			return
		}
		if err := s.handleFrame(f, frame); err != nil {
			s.log.Warning("Face %d: %v", f.id, err)
		}
	}
}

type outgoing struct {
	to    uint64
	frame *common.Frame
}

func (s *Server) handleFrame(f *hubFace, frame *common.Frame) error {
	var out []outgoing
	var err error
	switch frame.Method {
	case common.METHOD_REGISTER, common.METHOD_UNREGISTER:
		out, err = s.onRegister(f, frame)
	case common.METHOD_INTEREST:
		out, err = s.onInterest(f, frame)
	case common.METHOD_DATA:
		out, err = s.onData(f, frame)
	default:
		err = fmt.Errorf("unknown method: %s", frame.Method)
	}
	s.send(out)
	return err
}

func (s *Server) send(out []outgoing) {
	for _, o := range out {
		s.mu.Lock()
		dst, ok := s.faces[o.to]
		s.mu.Unlock()
		if !ok {
			continue
		}
		if err := dst.conn.WriteFrame(o.frame); err != nil {
			s.log.Warning("Face %d: write: %v", o.to, err)
		}
	}
}

func (s *Server) onRegister(f *hubFace, frame *common.Frame) ([]outgoing, error) {
	reply := &common.Frame{Method: frame.Method, ID: frame.ID}
	var p common.RegisterParams
	prefix, err := decodePrefix(frame, &p)
	if err != nil {
		reply.Error = err.Error()
		return []outgoing{{f.id, reply}}, nil
	}
	s.mu.Lock()
	if frame.Method == common.METHOD_REGISTER {
		s.fib.add(prefix, f.id)
		s.log.Info("Face %d registered %s", f.id, prefix)
	} else if !s.fib.remove(prefix, f.id) {
		reply.Error = "prefix not registered: " + p.Prefix
	}
	s.mu.Unlock()
	return []outgoing{{f.id, reply}}, nil
}

func decodePrefix(frame *common.Frame, p *common.RegisterParams) (ndn.Name, error) {
	if err := frame.Decode(p); err != nil {
		return nil, err
	}
	return ndn.ParseName(p.Prefix)
}

func (s *Server) onInterest(f *hubFace, frame *common.Frame) ([]outgoing, error) {
	var p common.PacketParams
	if err := frame.Decode(&p); err != nil {
		return nil, err
	}
	i, err := ndn.DecodeInterest(p.Wire)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pit.duplicate(i, s.now()) {
		s.log.Info("Duplicate nonce dropped: %s", i.Name)
		return nil, nil
	}
	nexthops := s.fib.lookup(i.Name, f.id)
	if len(nexthops) == 0 {
		s.log.Info("No route for %s", i.Name)
		return nil, nil
	}
	e, fresh := s.pit.insert(i, f.id)
	if !fresh {
		return nil, nil
	}
	e.timer = time.AfterFunc(i.EffectiveLifetime(), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pit.expire(e)
	})
	fwd := &common.Frame{Method: common.METHOD_INTEREST, Message: frame.Message}
	out := make([]outgoing, 0, len(nexthops))
	for _, id := range nexthops {
		out = append(out, outgoing{id, fwd})
	}
	return out, nil
}

func (s *Server) onData(f *hubFace, frame *common.Frame) ([]outgoing, error) {
	var p common.PacketParams
	if err := frame.Decode(&p); err != nil {
		return nil, err
	}
	d, err := ndn.DecodeData(p.Wire)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	downstream := s.pit.satisfy(d, f.id)
	s.mu.Unlock()
	if len(downstream) == 0 {
		s.log.Info("Unsolicited data dropped: %s", d.Name)
		return nil, nil
	}
	fwd := &common.Frame{Method: common.METHOD_DATA, Message: frame.Message}
	out := make([]outgoing, 0, len(downstream))
	for _, id := range downstream {
		out = append(out, outgoing{id, fwd})
	}
	return out, nil
}

// Stats reports table sizes.
func (s *Server) Stats() (faces, routes, pending int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.faces), s.fib.len(), s.pit.len()
}
