// Package store pushes generated keys to the repo over one long-lived
// connection. Every push gets a correlation token; acknowledgments are matched
// to their push, failed pushes are retried with backoff, and outcomes are
// kept in a Tracker. Nothing here reports back into the caller's loop except
// through the optional outcome callback.
package store

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gepd/gepd/common"
	"github.com/gepd/gepd/pkg/face"
	"github.com/gepd/gepd/pkg/logger"
	"github.com/gepd/gepd/pkg/ndn"
	"github.com/gepd/gepd/pkg/retry"
)

// DEF_ACK_TIMEOUT bounds the wait for the acknowledgment of one attempt.
const DEF_ACK_TIMEOUT = 10 * time.Second

// Options tune a Client.
type Options struct {
	Retry retry.Config
	// AckTimeout fails an attempt the store has not acknowledged in time;
	// zero means DEF_ACK_TIMEOUT.
	AckTimeout time.Duration
	// OnOutcome runs once per push when it is acked or finally fails. It is
	// called from the client's reader or timer goroutines.
	OnOutcome func(Push)
	History   int
}

type inflight struct {
	token string
	wires [][]byte
	frame uint64
	state retry.State
	timer *time.Timer
}

// Client is the store connection.
type Client struct {
	conn    *face.SyncConn
	log     logger.Logger
	tracker *Tracker
	opts    Options
	now     func() time.Time

	mu       sync.Mutex
	nextID   uint64
	byFrame  map[uint64]*inflight
	byToken  map[string]*inflight
	closed   bool
	done     chan struct{}
	newToken func() string
}

// Open dials the store at addr.
func Open(addr string, l logger.Logger, opts Options) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("store: dial %s: %w", addr, err)
	}
	return New(conn, l, opts), nil
}

// New wraps an established store connection and starts reading acks.
func New(conn net.Conn, l logger.Logger, opts Options) *Client {
	if l == nil {
		l = logger.NewNopLogger()
	}
	c := &Client{
		conn:     face.NewSyncConn(conn),
		log:      l,
		tracker:  NewTracker(opts.History),
		opts:     opts,
		now:      time.Now,
		byFrame:  make(map[uint64]*inflight),
		byToken:  make(map[string]*inflight),
		done:     make(chan struct{}),
		newToken: uuid.NewString,
	}
	if c.opts.AckTimeout <= 0 {
		c.opts.AckTimeout = DEF_ACK_TIMEOUT
	}
	go c.readLoop()
	return c
}

func (c *Client) Tracker() *Tracker { return c.tracker }

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Push sends batch as one insert and returns its token. The returned error
// only says the push could not be started; its outcome arrives later.
func (c *Client) Push(batch []*ndn.Data) (string, error) {
	if len(batch) == 0 {
		return "", ErrEmptyBatch
	}
	token := c.newToken()
	names := make([]string, len(batch))
	wires := make([][]byte, len(batch))
	for i, d := range batch {
		names[i] = d.Name.String()
		wires[i] = d.Encode()
	}
	c.tracker.add(token, names, c.now())
	p := &inflight{token: token, wires: wires}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.finish(p, Failed, ErrStoreClosed)
		return token, ErrStoreClosed
	}
	c.byToken[token] = p
	c.mu.Unlock()
	c.send(p)
	return token, nil
}

func (c *Client) send(p *inflight) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.finish(p, Failed, ErrStoreClosed)
		return
	}
	c.nextID++
	id := c.nextID
	p.frame = id
	c.byFrame[id] = p
	p.timer = time.AfterFunc(c.opts.AckTimeout, func() { c.ackTimedOut(p, id) })
	c.mu.Unlock()

	c.tracker.attempt(p.token, c.now())
	frame, err := common.NewFrame(common.METHOD_INSERT, id, &common.InsertParams{Token: p.token, Packets: p.wires})
	if err == nil {
		err = c.conn.WriteFrame(frame)
	}
	if err != nil {
		if c.forget(p, id) {
			c.failed(p, err)
		}
	}
}

// forget removes attempt id of p and stops its ack timer. It reports false
// when the attempt was already settled by an ack, a timeout or shutdown.
func (c *Client) forget(p *inflight, id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byFrame[id] != p {
		return false
	}
	delete(c.byFrame, id)
	p.timer.Stop()
	return true
}

func (c *Client) ackTimedOut(p *inflight, id uint64) {
	if !c.forget(p, id) {
		return
	}
	c.failed(p, fmt.Errorf("%w: no acknowledgment for push %s after %s", retry.ErrTimeout, p.token, c.opts.AckTimeout))
}

// failed retries p when the policy allows, otherwise settles it.
func (c *Client) failed(p *inflight, err error) {
	p.state.Record(err)
	c.tracker.note(p.token, err)
	if !c.opts.Retry.ShouldRetry(&p.state, err) {
		c.finish(p, Failed, err)
		return
	}
	d := c.opts.Retry.Delay(&p.state)
	c.log.Warning("Push %s failed (%v), retrying in %s", p.token, err, d)
	c.mu.Lock()
	p.timer = time.AfterFunc(d, func() { c.send(p) })
	c.mu.Unlock()
}

func (c *Client) finish(p *inflight, state State, err error) {
	c.mu.Lock()
	delete(c.byToken, p.token)
	c.mu.Unlock()
	rec, ok := c.tracker.settle(p.token, state, err, c.now())
	if !ok {
		return
	}
	if state == Acked {
		c.log.Info("Put data into repo succeeded: %s", p.token)
	} else {
		c.log.Warning("%v: %s: %v", ErrPutFailed, p.token, err)
	}
	if c.opts.OnOutcome != nil {
		c.opts.OnOutcome(rec)
	}
}

// Close ends the connection; pushes still in flight fail.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.log.Warning("Store connection: %v", err)
			}
			return
		}
		c.onAck(frame)
	}
}

func (c *Client) onAck(frame *common.Frame) {
	c.mu.Lock()
	p, ok := c.byFrame[frame.ID]
	c.mu.Unlock()
	if !ok || !c.forget(p, frame.ID) {
		c.log.Warning("Acknowledgment for unknown push %d", frame.ID)
		return
	}
	if err := decodeAck(frame); err != nil {
		c.failed(p, err)
		return
	}
	c.finish(p, Acked, nil)
}

// decodeAck accepts a reply only if it carries a Data with non-empty content.
func decodeAck(frame *common.Frame) error {
	if frame.Error != "" {
		return fmt.Errorf("%w: %s", ErrPutFailed, frame.Error)
	}
	var p common.PacketParams
	if err := frame.Decode(&p); err != nil {
		return fmt.Errorf("%w: %v", ErrPutFailed, err)
	}
	d, err := ndn.DecodeData(p.Wire)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPutFailed, err)
	}
	if len(d.Content) == 0 {
		return ErrPutFailed
	}
	return nil
}

func (c *Client) shutdown() {
	c.mu.Lock()
	c.closed = true
	var pending []*inflight
	for _, p := range c.byToken {
		if p.timer != nil {
			p.timer.Stop()
		}
		pending = append(pending, p)
	}
	c.byFrame = make(map[uint64]*inflight)
	c.mu.Unlock()
	for _, p := range pending {
		c.finish(p, Failed, ErrStoreClosed)
	}
	close(c.done)
}
