package hub

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gepd/gepd/pkg/face"
	"github.com/gepd/gepd/pkg/logger"
	"github.com/gepd/gepd/pkg/ndn"
)

func connect(t *testing.T, s *Server) *face.Face {
	t.Helper()
	client, server := net.Pipe()
	go s.HandleConn(server)
	loop := face.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	f := face.New(client, loop, logger.NewNopLogger())
	t.Cleanup(func() {
		cancel()
		f.Close()
	})
	return f
}

func register(t *testing.T, f *face.Face, prefix string, h face.InterestHandler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.RegisterPrefix(ctx, ndn.MustParseName(prefix), h); err != nil {
		t.Fatalf("register %s: %v", prefix, err)
	}
}

type result struct {
	data    *ndn.Data
	timeout bool
}

func express(f *face.Face, i *ndn.Interest) chan result {
	out := make(chan result, 1)
	f.Loop().Post(func() {
		f.ExpressInterest(i,
			func(_ *ndn.Interest, d *ndn.Data) { out <- result{data: d} },
			func(*ndn.Interest) { out <- result{timeout: true} })
	})
	return out
}

func wait(t *testing.T, ch chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("no callback")
	}
	return result{}
}

func TestHubForwardsInterestAndData(t *testing.T) {
	s := NewServer(logger.NewMockLogger(), Config{})
	producer := connect(t, s)
	var served atomic.Int32
	register(t, producer, "/org/openmhealth/zhehao/SAMPLE", func(_ ndn.Name, i *ndn.Interest) {
		served.Add(1)
		producer.Put(ndn.NewData(i.Name.AppendString("20160321T090000"), []byte("c")))
	})

	consumer := connect(t, s)
	i := &ndn.Interest{Name: ndn.MustParseName("/org/openmhealth/zhehao/SAMPLE/fitness"), CanBePrefix: true, Lifetime: time.Second}
	r := wait(t, express(consumer, i))
	if r.timeout || r.data.Name.String() != "/org/openmhealth/zhehao/SAMPLE/fitness/20160321T090000" {
		t.Fatalf("result = %+v", r)
	}
	if served.Load() != 1 {
		t.Fatalf("producer served %d interests", served.Load())
	}
	if _, _, pending := s.Stats(); pending != 0 {
		t.Fatalf("PIT not cleared: %d", pending)
	}
}

func TestHubNoRoute(t *testing.T) {
	s := NewServer(logger.NewMockLogger(), Config{})
	consumer := connect(t, s)
	r := wait(t, express(consumer, &ndn.Interest{Name: ndn.MustParseName("/nowhere"), Lifetime: 100 * time.Millisecond}))
	if !r.timeout {
		t.Fatalf("expected timeout, got %+v", r)
	}
}

func TestHubNeverReturnsToIncomingFace(t *testing.T) {
	s := NewServer(logger.NewMockLogger(), Config{})
	f := connect(t, s)
	register(t, f, "/loop", func(_ ndn.Name, i *ndn.Interest) {
		t.Errorf("interest %s came back to its sender", i.Name)
	})
	r := wait(t, express(f, &ndn.Interest{Name: ndn.MustParseName("/loop/x"), Lifetime: 100 * time.Millisecond}))
	if !r.timeout {
		t.Fatalf("expected timeout, got %+v", r)
	}
}

func TestHubAggregatesPendingInterests(t *testing.T) {
	s := NewServer(logger.NewMockLogger(), Config{})
	producer := connect(t, s)
	arrived := make(chan *ndn.Interest, 4)
	register(t, producer, "/p", func(_ ndn.Name, i *ndn.Interest) { arrived <- i })

	a, b := connect(t, s), connect(t, s)
	name := ndn.MustParseName("/p/x")
	ra := express(a, &ndn.Interest{Name: name, Lifetime: 2 * time.Second})
	first := <-arrived
	rb := express(b, &ndn.Interest{Name: name, Lifetime: 2 * time.Second})
	// Let b's interest reach the PIT before answering.
	time.Sleep(100 * time.Millisecond)
	if err := producer.Put(ndn.NewData(first.Name, []byte("v"))); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []chan result{ra, rb} {
		if r := wait(t, ch); r.timeout {
			t.Fatal("aggregated consumer timed out")
		}
	}
	select {
	case i := <-arrived:
		t.Fatalf("aggregated interest was forwarded twice: %s", i.Name)
	default:
	}
}

func TestHubDropsDuplicateNonce(t *testing.T) {
	s := NewServer(logger.NewMockLogger(), Config{})
	producer := connect(t, s)
	register(t, producer, "/p", func(ndn.Name, *ndn.Interest) {})

	a, b := connect(t, s), connect(t, s)
	i := &ndn.Interest{Name: ndn.MustParseName("/p/x"), Nonce: 42, Lifetime: 200 * time.Millisecond}
	dup := *i
	ra := express(a, i)
	time.Sleep(50 * time.Millisecond)
	rb := express(b, &dup)
	time.Sleep(50 * time.Millisecond)
	producer.Put(ndn.NewData(i.Name, nil))
	if r := wait(t, ra); r.timeout {
		t.Fatal("first interest should be satisfied")
	}
	if r := wait(t, rb); !r.timeout {
		t.Fatal("duplicate nonce should have been dropped")
	}
}

func TestHubCleansUpClosedFace(t *testing.T) {
	s := NewServer(logger.NewMockLogger(), Config{})
	f := connect(t, s)
	register(t, f, "/gone", func(ndn.Name, *ndn.Interest) {})
	f.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if faces, routes, _ := s.Stats(); faces == 0 && routes == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("closed face left state behind")
}

func TestServeTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("tcp unavailable: %v", err)
	}
	s := NewServer(logger.NewMockLogger(), Config{MaxConns: 4, ForceTCP: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, l) }()

	loop := face.NewLoop()
	go loop.Run(ctx)
	f, err := face.Dial("tcp", l.Addr().String(), loop, nil)
	if err != nil {
		t.Fatal(err)
	}
	register(t, f, "/tcp", func(ndn.Name, *ndn.Interest) {})
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	<-f.Done()
}

func TestFibLookup(t *testing.T) {
	f := newFib()
	f.add(ndn.MustParseName("/a"), 1)
	f.add(ndn.MustParseName("/a/b"), 2)
	f.add(ndn.MustParseName("/a/b"), 3)
	tests := []struct {
		name string
		in   uint64
		want []uint64
	}{
		{"/a/b/c", 9, []uint64{2, 3}},
		{"/a/b/c", 2, []uint64{3}},
		{"/a/x", 9, []uint64{1}},
		{"/z", 9, nil},
	}
	for _, tt := range tests {
		got := f.lookup(ndn.MustParseName(tt.name), tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("lookup(%s, %d) = %v, want %v", tt.name, tt.in, got, tt.want)
			continue
		}
		for k := range got {
			if got[k] != tt.want[k] {
				t.Errorf("lookup(%s, %d) = %v, want %v", tt.name, tt.in, got, tt.want)
			}
		}
	}
	f.add(ndn.MustParseName("/only"), 5)
	if got := f.lookup(ndn.MustParseName("/only/x"), 5); got != nil {
		t.Errorf("lookup back to the only face = %v", got)
	}
	f.removeFace(2)
	f.removeFace(3)
	if got := f.lookup(ndn.MustParseName("/a/b/c"), 9); len(got) != 1 || got[0] != 1 {
		t.Errorf("after removal lookup = %v", got)
	}
}
