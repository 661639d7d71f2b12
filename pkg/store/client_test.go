package store

import (
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gepd/gepd/common"
	"github.com/gepd/gepd/pkg/face"
	"github.com/gepd/gepd/pkg/logger"
	"github.com/gepd/gepd/pkg/ndn"
	"github.com/gepd/gepd/pkg/retry"
)

// dropAck as reply content makes fakeRepo read the command and never answer.
const dropAck = "\x00drop"

// fakeRepo answers insert commands; reply returns the ack content for the
// n-th command received (1-based).
type fakeRepo struct {
	conn  *face.SyncConn
	reply func(n int) []byte

	mu     sync.Mutex
	tokens []string
}

func newFakeRepo(t *testing.T, reply func(n int) []byte) (*fakeRepo, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	r := &fakeRepo{conn: face.NewSyncConn(server), reply: reply}
	go r.serve()
	t.Cleanup(func() { r.conn.Close() })
	return r, client
}

func (r *fakeRepo) serve() {
	for n := 1; ; n++ {
		frame, err := r.conn.ReadFrame()
		if err != nil {
			return
		}
		var p common.InsertParams
		frame.Decode(&p)
		r.mu.Lock()
		r.tokens = append(r.tokens, p.Token)
		r.mu.Unlock()
		content := r.reply(n)
		if string(content) == dropAck {
			continue
		}
		ack := ndn.NewData(ndn.MustParseName(common.REPO_INSERT_PREFIX).AppendString(p.Token), content)
		out, _ := common.NewFrame(common.METHOD_INSERT, frame.ID, &common.PacketParams{Wire: ack.Encode()})
		if err := r.conn.WriteFrame(out); err != nil {
			return
		}
	}
}

func (r *fakeRepo) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tokens...)
}

func fastRetry(n int) retry.Config {
	return retry.Config{MaxRetries: n, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
}

func batch(names ...string) []*ndn.Data {
	out := make([]*ndn.Data, len(names))
	for i, n := range names {
		out[i] = ndn.NewData(ndn.MustParseName(n), []byte("key"))
	}
	return out
}

func awaitOutcome(t *testing.T, ch chan Push) Push {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("no outcome")
	}
	return Push{}
}

func TestPushAcked(t *testing.T) {
	_, conn := newFakeRepo(t, func(int) []byte { return []byte("/a") })
	outcomes := make(chan Push, 1)
	c := New(conn, logger.NewMockLogger(), Options{OnOutcome: func(p Push) { outcomes <- p }})
	defer c.Close()

	token, err := c.Push(batch("/g/E-KEY/1", "/g/D-KEY/1/FOR/alice"))
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := uuid.Parse(token); err != nil {
		t.Errorf("token %q is not a uuid", token)
	}
	p := awaitOutcome(t, outcomes)
	if p.Token != token || p.State != Acked || p.Attempts != 1 || len(p.Names) != 2 {
		t.Fatalf("outcome = %+v", p)
	}
	if got, _ := c.Tracker().Get(token); got.State != Acked {
		t.Errorf("tracker state = %v", got.State)
	}
}

func TestPushRetriesThenFails(t *testing.T) {
	repo, conn := newFakeRepo(t, func(int) []byte { return nil })
	log := logger.NewMockLogger()
	outcomes := make(chan Push, 1)
	c := New(conn, log, Options{Retry: fastRetry(2), OnOutcome: func(p Push) { outcomes <- p }})
	defer c.Close()

	token, _ := c.Push(batch("/g/E-KEY/1"))
	p := awaitOutcome(t, outcomes)
	if p.State != Failed || p.Attempts != 3 {
		t.Fatalf("outcome = %+v, want failed after 3 attempts", p)
	}
	if !log.Contains("Put data into repo failed") {
		t.Errorf("missing failure log: %v", log.WarningCalls())
	}
	for _, tok := range repo.received() {
		if tok != token {
			t.Errorf("retry used token %q, want %q", tok, token)
		}
	}
	if n := len(repo.received()); n != 3 {
		t.Errorf("repo saw %d commands, want 3", n)
	}
}

func TestPushSucceedsOnRetry(t *testing.T) {
	_, conn := newFakeRepo(t, func(n int) []byte {
		if n == 1 {
			return nil
		}
		return []byte("/a")
	})
	outcomes := make(chan Push, 1)
	c := New(conn, logger.NewNopLogger(), Options{Retry: fastRetry(3), OnOutcome: func(p Push) { outcomes <- p }})
	defer c.Close()

	c.Push(batch("/g/E-KEY/1"))
	if p := awaitOutcome(t, outcomes); p.State != Acked || p.Attempts != 2 {
		t.Fatalf("outcome = %+v", p)
	}
}

func TestPushWithoutRetryFailsOnce(t *testing.T) {
	repo, conn := newFakeRepo(t, func(int) []byte { return nil })
	outcomes := make(chan Push, 1)
	c := New(conn, logger.NewNopLogger(), Options{OnOutcome: func(p Push) { outcomes <- p }})
	defer c.Close()

	c.Push(batch("/g/E-KEY/1"))
	if p := awaitOutcome(t, outcomes); p.State != Failed || p.Attempts != 1 {
		t.Fatalf("outcome = %+v", p)
	}
	if n := len(repo.received()); n != 1 {
		t.Errorf("repo saw %d commands, want 1", n)
	}
}

func TestUnacknowledgedPushTimesOut(t *testing.T) {
	repo, conn := newFakeRepo(t, func(int) []byte { return []byte(dropAck) })
	outcomes := make(chan Push, 1)
	c := New(conn, logger.NewNopLogger(), Options{AckTimeout: 50 * time.Millisecond, OnOutcome: func(p Push) { outcomes <- p }})
	defer c.Close()

	token, _ := c.Push(batch("/g/E-KEY/1"))
	p := awaitOutcome(t, outcomes)
	if p.Token != token || p.State != Failed || p.Attempts != 1 {
		t.Fatalf("outcome = %+v", p)
	}
	if !strings.Contains(p.LastError, "no acknowledgment") {
		t.Errorf("last error = %q", p.LastError)
	}
	if got, _ := c.Tracker().Get(token); got.State != Failed {
		t.Errorf("tracker state = %v, want failed", got.State)
	}
	if counts := c.Tracker().Counts(); counts[Pending] != 0 {
		t.Errorf("pending pushes = %d", counts[Pending])
	}
	if n := len(repo.received()); n != 1 {
		t.Errorf("repo saw %d commands, want 1", n)
	}
}

func TestAckTimeoutIsRetried(t *testing.T) {
	repo, conn := newFakeRepo(t, func(n int) []byte {
		if n == 1 {
			return []byte(dropAck)
		}
		return []byte("/a")
	})
	log := logger.NewMockLogger()
	outcomes := make(chan Push, 1)
	c := New(conn, log, Options{Retry: fastRetry(2), AckTimeout: 50 * time.Millisecond, OnOutcome: func(p Push) { outcomes <- p }})
	defer c.Close()

	token, _ := c.Push(batch("/g/E-KEY/1"))
	if p := awaitOutcome(t, outcomes); p.State != Acked || p.Attempts != 2 {
		t.Fatalf("outcome = %+v", p)
	}
	if !log.Contains("no acknowledgment for push " + token) {
		t.Errorf("timeout not logged: %v", log.WarningCalls())
	}
	for _, tok := range repo.received() {
		if tok != token {
			t.Errorf("retry used token %q, want %q", tok, token)
		}
	}
}

func TestConnectionLossFailsPending(t *testing.T) {
	client, server := net.Pipe()
	outcomes := make(chan Push, 2)
	c := New(client, logger.NewNopLogger(), Options{OnOutcome: func(p Push) { outcomes <- p }})

	// Read the command but never answer, then drop the connection.
	sc := face.NewSyncConn(server)
	done := make(chan struct{})
	go func() {
		sc.ReadFrame()
		close(done)
	}()
	token, err := c.Push(batch("/g/E-KEY/1"))
	if err != nil {
		t.Fatal(err)
	}
	<-done
	sc.Close()

	p := awaitOutcome(t, outcomes)
	if p.Token != token || p.State != Failed || p.LastError != ErrStoreClosed.Error() {
		t.Fatalf("outcome = %+v", p)
	}
	<-c.Done()
	if _, err := c.Push(batch("/g/E-KEY/2")); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Push after close err = %v", err)
	}
	if p := awaitOutcome(t, outcomes); p.State != Failed {
		t.Errorf("late push outcome = %+v", p)
	}
}

func TestPushEmptyBatch(t *testing.T) {
	_, conn := newFakeRepo(t, func(int) []byte { return nil })
	c := New(conn, nil, Options{})
	defer c.Close()
	if _, err := c.Push(nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("err = %v", err)
	}
}

func TestTrackerHistory(t *testing.T) {
	tr := NewTracker(2)
	now := time.Now()
	for _, tok := range []string{"a", "b", "c", "d"} {
		tr.add(tok, nil, now)
	}
	tr.settle("a", Acked, nil, now)
	tr.settle("b", Failed, errors.New("x"), now)
	tr.settle("c", Acked, nil, now)
	if _, ok := tr.Get("a"); ok {
		t.Error("oldest settled push must be evicted")
	}
	if _, ok := tr.settle("c", Failed, nil, now); ok {
		t.Error("settled push must not change state again")
	}
	counts := tr.Counts()
	if counts[Pending] != 1 || counts[Acked] != 1 || counts[Failed] != 1 {
		t.Errorf("counts = %v", counts)
	}
	if len(tr.Snapshot()) != 3 {
		t.Errorf("snapshot has %d entries", len(tr.Snapshot()))
	}
}
