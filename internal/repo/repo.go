// Package repo is the persistent store the group manager pushes keys into.
// Clients insert batches of Data over a dedicated TCP connection and receive
// one acknowledgment per batch; stored packets can also be served on the hub.
package repo

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/gepd/gepd/common"
	"github.com/gepd/gepd/pkg/face"
	"github.com/gepd/gepd/pkg/logger"
	"github.com/gepd/gepd/pkg/ndn"
)

// Server accepts insert connections.
type Server struct {
	log     logger.Logger
	storage *Storage

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
}

func NewServer(l logger.Logger, storage *Storage) *Server {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Server{log: l, storage: storage, conns: make(map[net.Conn]struct{})}
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.log.Info("Repo listening on %s", l.Addr())
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

func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	for c := range s.conns {
		c.Close()
	}
	return nil
}

// HandleConn serves insert commands on conn until it closes.
func (s *Server) HandleConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	sconn := face.NewSyncConn(conn)
	for {
		frame, err := sconn.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Warning("Repo connection: %v", err)
			}
			return
		}
		reply := s.handleInsert(frame)
		if err := sconn.WriteFrame(reply); err != nil {
			s.log.Warning("Repo connection: write: %v", err)
			return
		}
	}
}

// handleInsert stores every packet of the command. The acknowledgment lists
// the stored names, or is empty if any packet could not be stored.
func (s *Server) handleInsert(frame *common.Frame) *common.Frame {
	var p common.InsertParams
	if frame.Method != common.METHOD_INSERT {
		s.log.Warning("Unexpected %q command", frame.Method)
	} else if err := frame.Decode(&p); err != nil {
		s.log.Warning("Bad insert command: %v", err)
	}
	var names []string
	ok := frame.Method == common.METHOD_INSERT && len(p.Packets) > 0
	for _, wire := range p.Packets {
		d, err := ndn.DecodeData(wire)
		if err == nil {
			err = s.storage.Insert(d)
		}
		if err != nil {
			s.log.Warning("Insert failed: %v", err)
			ok = false
			break
		}
		names = append(names, d.Name.String())
	}
	token := p.Token
	if token == "" {
		token = "unknown"
	}
	var content []byte
	if ok {
		content = []byte(strings.Join(names, "\n"))
		s.log.Info("Inserted %d packets for %s", len(names), token)
	}
	ack := ndn.NewData(ndn.MustParseName(common.REPO_INSERT_PREFIX).AppendString(token), content)
	reply, err := common.NewFrame(common.METHOD_INSERT, frame.ID, &common.PacketParams{Wire: ack.Encode()})
	if err != nil {
		return &common.Frame{Method: common.METHOD_INSERT, ID: frame.ID, Error: err.Error()}
	}
	return reply
}

// ServeHub registers prefixes on the hub and answers interests under them
// from storage. Interests with no stored match are left to time out.
func (s *Server) ServeHub(ctx context.Context, f *face.Face, prefixes []ndn.Name) error {
	for _, prefix := range prefixes {
		if err := f.RegisterPrefix(ctx, prefix, s.onInterest(f)); err != nil {
			return err
		}
		s.log.Info("Serving %s", prefix)
	}
	return nil
}

func (s *Server) onInterest(f *face.Face) face.InterestHandler {
	return func(_ ndn.Name, i *ndn.Interest) {
		s.log.Info("<< I: %s", i.Name)
		d, err := s.storage.Find(i)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.log.Warning("Lookup %s: %v", i.Name, err)
			}
			return
		}
		if err := f.Put(d); err != nil {
			s.log.Warning("Put %s: %v", d.Name, err)
			return
		}
		s.log.Info(">> D: %s", d.Name)
	}
}
