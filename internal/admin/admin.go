// Package admin exposes the status of a running role over JSON-RPC 2.0:
// plain HTTP on /jsonrpc and a websocket on /jsonrpc/ws that also receives
// key-generation progress and store acknowledgments as notifications. Both
// require a bearer token.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"

	"github.com/gepd/gepd/internal/manager"
	"github.com/gepd/gepd/internal/producer"
	"github.com/gepd/gepd/pkg/gep"
	"github.com/gepd/gepd/pkg/logger"
	"github.com/gepd/gepd/pkg/store"
)

const (
	codeRoleNotRunning = jrpc2.Code(-32001)
	codeTaskNotFound   = jrpc2.Code(-32002)
)

type Config struct {
	Secret  string
	Version string
	Commit  string
}

// ManagerSource is the manager state served by the endpoint.
type ManagerSource interface {
	Members() ([]gep.Member, error)
	Requests() []manager.Request
	Tasks() []manager.TaskStatus
	Cancel(id uint64) error
}

type StoreSource interface {
	Snapshot() []store.Push
	Counts() map[store.State]int
}

type ProducerSource interface {
	Keys() []producer.Key
}

// Sources holds whichever roles run in this process; nil ones answer with
// an error.
type Sources struct {
	Manager  ManagerSource
	Store    StoreSource
	Producer ProducerSource
}

type Server struct {
	cfg      Config
	src      Sources
	log      logger.Logger
	methods  handler.Map
	bridge   jhttp.Bridge
	notifier *Notifier
	http     *http.Server
}

type VersionResult struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
}

type MemberInfo struct {
	KeyName  string `json:"keyName"`
	Schedule string `json:"schedule"`
}

type MembersResult struct {
	Members []MemberInfo `json:"members"`
}

type TasksResult struct {
	Tasks    []manager.TaskStatus `json:"tasks"`
	Requests []manager.Request    `json:"requests"`
}

type TaskParam struct {
	ID uint64 `json:"id"`
}

type PushesResult struct {
	Counts map[store.State]int `json:"counts"`
	Pushes []store.Push        `json:"pushes"`
}

type KeysResult struct {
	Keys []producer.Key `json:"keys"`
}

type EmptyResult struct{}

func New(cfg Config, src Sources, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNopLogger()
	}
	s := &Server{cfg: cfg, src: src, log: l, notifier: NewNotifier(l)}
	s.methods = handler.Map{
		"system.getVersion":  handler.New(s.systemGetVersion),
		"manager.members":    handler.New(s.managerMembers),
		"manager.tasks":      handler.New(s.managerTasks),
		"manager.cancelTask": handler.New(s.managerCancelTask),
		"store.pushes":       handler.New(s.storePushes),
		"producer.keys":      handler.New(s.producerKeys),
	}
	s.bridge = jhttp.NewBridge(s.methods, nil)
	return s
}

func (s *Server) Notifier() *Notifier { return s.notifier }

// KeysProgress pushes a task status to websocket sessions.
func (s *Server) KeysProgress(t manager.TaskStatus) {
	s.notifier.Broadcast(NotifyKeysProgress, t)
}

// StoreAck pushes the outcome of a store push to websocket sessions.
func (s *Server) StoreAck(p store.Push) {
	s.notifier.Broadcast(NotifyStoreAck, p)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/jsonrpc", requireToken(s.cfg.Secret, s.bridge))
	mux.Handle("/jsonrpc/ws", requireToken(s.cfg.Secret, http.HandlerFunc(s.serveWS)))
	return mux
}

// Serve answers on l until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
	}()
	s.log.Info("Admin endpoint on %s", l.Addr())
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

func (s *Server) Close() error {
	return s.bridge.Close()
}

func notRunning(role string) error {
	return &jrpc2.Error{Code: codeRoleNotRunning, Message: role + " is not running in this process"}
}

func (s *Server) systemGetVersion(_ context.Context) (*VersionResult, error) {
	return &VersionResult{Version: s.cfg.Version, Commit: s.cfg.Commit}, nil
}

func (s *Server) managerMembers(_ context.Context) (*MembersResult, error) {
	if s.src.Manager == nil {
		return nil, notRunning("manager")
	}
	members, err := s.src.Manager.Members()
	if err != nil {
		return nil, err
	}
	out := &MembersResult{Members: make([]MemberInfo, 0, len(members))}
	for _, m := range members {
		out.Members = append(out.Members, MemberInfo{KeyName: m.KeyName.String(), Schedule: m.Schedule})
	}
	return out, nil
}

func (s *Server) managerTasks(_ context.Context) (*TasksResult, error) {
	if s.src.Manager == nil {
		return nil, notRunning("manager")
	}
	return &TasksResult{Tasks: s.src.Manager.Tasks(), Requests: s.src.Manager.Requests()}, nil
}

func (s *Server) managerCancelTask(_ context.Context, p *TaskParam) (*EmptyResult, error) {
	if s.src.Manager == nil {
		return nil, notRunning("manager")
	}
	if err := s.src.Manager.Cancel(p.ID); err != nil {
		return nil, &jrpc2.Error{Code: codeTaskNotFound, Message: err.Error()}
	}
	return &EmptyResult{}, nil
}

func (s *Server) storePushes(_ context.Context) (*PushesResult, error) {
	if s.src.Store == nil {
		return nil, notRunning("store client")
	}
	return &PushesResult{Counts: s.src.Store.Counts(), Pushes: s.src.Store.Snapshot()}, nil
}

func (s *Server) producerKeys(_ context.Context) (*KeysResult, error) {
	if s.src.Producer == nil {
		return nil, notRunning("producer")
	}
	return &KeysResult{Keys: s.src.Producer.Keys()}, nil
}
