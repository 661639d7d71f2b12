// Package face is the client side of the hub protocol: it registers name
// prefixes, expresses interests with lifetimes, and publishes data. All
// callbacks are delivered on a Loop.
package face

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gepd/gepd/common"
	"github.com/gepd/gepd/pkg/logger"
	"github.com/gepd/gepd/pkg/ndn"
)

// InterestHandler serves an interest that arrived under a registered prefix.
type InterestHandler func(prefix ndn.Name, i *ndn.Interest)

type pendingInterest struct {
	interest  *ndn.Interest
	onData    func(*ndn.Interest, *ndn.Data)
	onTimeout func(*ndn.Interest)
	timer     *time.Timer
}

type registration struct {
	prefix  ndn.Name
	handler InterestHandler
}

// Face is one connection to the hub.
type Face struct {
	conn *SyncConn
	loop *Loop
	log  logger.Logger

	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]*pendingInterest
	handlers []registration
	acks     map[uint64]chan error
	err      error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a hub at addr and starts reading from it.
func Dial(network, addr string, loop *Loop, l logger.Logger) (*Face, error) {
	conn, err := dialFunc(network, addr)
	if err != nil {
		return nil, fmt.Errorf("face: dial %s %s: %w", network, addr, err)
	}
	return New(conn, loop, l), nil
}

var dialFunc = func(network, addr string) (net.Conn, error) {
	return net.DialTimeout(network, addr, 5*time.Second)
}

// New wraps an established connection and starts its reader goroutine.
func New(conn net.Conn, loop *Loop, l logger.Logger) *Face {
	if l == nil {
		l = logger.NewNopLogger()
	}
	f := &Face{
		conn:    NewSyncConn(conn),
		loop:    loop,
		log:     l,
		pending: make(map[uint64]*pendingInterest),
		acks:    make(map[uint64]chan error),
		done:    make(chan struct{}),
	}
	go f.readLoop()
	return f
}

// Loop returns the loop callbacks run on.
func (f *Face) Loop() *Loop { return f.loop }

// Done is closed when the connection ends.
func (f *Face) Done() <-chan struct{} { return f.done }

// Err returns why the connection ended, or nil while it is open.
func (f *Face) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Face) id() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return f.nextID
}

// RegisterPrefix routes interests under prefix to h and waits for the hub to
// confirm. Interests under several registered prefixes go to the longest one.
func (f *Face) RegisterPrefix(ctx context.Context, prefix ndn.Name, h InterestHandler) error {
	id := f.id()
	ack := make(chan error, 1)
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return f.err
	}
	f.acks[id] = ack
	f.handlers = append(f.handlers, registration{prefix: prefix, handler: h})
	f.mu.Unlock()

	frame, err := common.NewFrame(common.METHOD_REGISTER, id, &common.RegisterParams{Prefix: prefix.String()})
	if err != nil {
		return err
	}
	if err := f.conn.WriteFrame(frame); err != nil {
		f.unregister(id, prefix)
		return fmt.Errorf("%w: %s: %v", ErrRegisterFailed, prefix, err)
	}
	select {
	case err := <-ack:
		if err != nil {
			f.unregister(id, prefix)
			return fmt.Errorf("%w: %s: %v", ErrRegisterFailed, prefix, err)
		}
		return nil
	case <-ctx.Done():
		f.unregister(id, prefix)
		return ctx.Err()
	}
}

func (f *Face) unregister(id uint64, prefix ndn.Name) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.acks, id)
	for i, r := range f.handlers {
		if r.prefix.Equal(prefix) {
			f.handlers = append(f.handlers[:i], f.handlers[i+1:]...)
			break
		}
	}
}

// ExpressInterest sends i and calls exactly one of onData or onTimeout on the
// loop. A send failure is reported as a timeout.
func (f *Face) ExpressInterest(i *ndn.Interest, onData func(*ndn.Interest, *ndn.Data), onTimeout func(*ndn.Interest)) {
	if i.Nonce == 0 {
		i.Nonce = ndn.RandomNonce()
	}
	id := f.id()
	p := &pendingInterest{interest: i, onData: onData, onTimeout: onTimeout}
	f.mu.Lock()
	f.pending[id] = p
	p.timer = time.AfterFunc(i.EffectiveLifetime(), func() { f.expire(id) })
	f.mu.Unlock()

	frame, err := common.NewFrame(common.METHOD_INTEREST, id, &common.PacketParams{Wire: i.Encode()})
	if err == nil {
		err = f.conn.WriteFrame(frame)
	}
	if err != nil {
		f.log.Warning("Failed to express interest %s: %v", i.Name, err)
		p.timer.Stop()
		f.expire(id)
	}
}

func (f *Face) expire(id uint64) {
	f.mu.Lock()
	p, ok := f.pending[id]
	delete(f.pending, id)
	f.mu.Unlock()
	if ok && p.onTimeout != nil {
		f.loop.Post(func() { p.onTimeout(p.interest) })
	}
}

// Put publishes d.
func (f *Face) Put(d *ndn.Data) error {
	frame, err := common.NewFrame(common.METHOD_DATA, 0, &common.PacketParams{Wire: d.Encode()})
	if err != nil {
		return err
	}
	if err := f.conn.WriteFrame(frame); err != nil {
		return fmt.Errorf("face: put %s: %w", d.Name, err)
	}
	return nil
}

// Close ends the connection. Pending interests are dropped without callbacks.
func (f *Face) Close() error {
	err := f.conn.Close()
	<-f.done
	return err
}

func (f *Face) readLoop() {
	var err error
	defer func() { f.shutdown(err) }()
	for {
		var frame *common.Frame
		frame, err = f.conn.ReadFrame()
		if err != nil {
			return
		}
		switch frame.Method {
		case common.METHOD_REGISTER:
			f.onRegisterAck(frame)
		case common.METHOD_INTEREST:
			f.onInterest(frame)
		case common.METHOD_DATA:
			f.onData(frame)
		default:
			f.log.Warning("Unexpected frame %q from hub", frame.Method)
		}
	}
}

func (f *Face) onRegisterAck(frame *common.Frame) {
	f.mu.Lock()
	ack, ok := f.acks[frame.ID]
	delete(f.acks, frame.ID)
	f.mu.Unlock()
	if !ok {
		return
	}
	if frame.Error != "" {
		ack <- errors.New(frame.Error)
		return
	}
	ack <- nil
}

func (f *Face) onInterest(frame *common.Frame) {
	var p common.PacketParams
	if err := frame.Decode(&p); err != nil {
		f.log.Warning("Bad interest frame: %v", err)
		return
	}
	i, err := ndn.DecodeInterest(p.Wire)
	if err != nil {
		f.log.Warning("Bad interest: %v", err)
		return
	}
	f.mu.Lock()
	var best *registration
	for k := range f.handlers {
		r := &f.handlers[k]
		if r.prefix.IsPrefixOf(i.Name) && (best == nil || r.prefix.Len() > best.prefix.Len()) {
			best = r
		}
	}
	var match registration
	if best != nil {
		match = *best
	}
	f.mu.Unlock()
	if match.handler == nil {
		return
	}
	f.loop.Post(func() { match.handler(match.prefix, i) })
}

func (f *Face) onData(frame *common.Frame) {
	var p common.PacketParams
	if err := frame.Decode(&p); err != nil {
		f.log.Warning("Bad data frame: %v", err)
		return
	}
	d, err := ndn.DecodeData(p.Wire)
	if err != nil {
		f.log.Warning("Bad data: %v", err)
		return
	}
	f.mu.Lock()
	var matched []*pendingInterest
	for id, pi := range f.pending {
		if pi.interest.Matches(d) {
			pi.timer.Stop()
			delete(f.pending, id)
			matched = append(matched, pi)
		}
	}
	f.mu.Unlock()
	for _, pi := range matched {
		pi := pi
		if pi.onData != nil {
			f.loop.Post(func() { pi.onData(pi.interest, d) })
		}
	}
}

func (f *Face) shutdown(err error) {
	f.closeOnce.Do(func() {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			err = ErrFaceClosed
		}
		f.mu.Lock()
		f.err = err
		for id, ack := range f.acks {
			ack <- ErrFaceClosed
			delete(f.acks, id)
		}
		for id, p := range f.pending {
			p.timer.Stop()
			delete(f.pending, id)
		}
		f.mu.Unlock()
		close(f.done)
	})
}
