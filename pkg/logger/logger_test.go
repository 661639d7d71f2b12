package logger

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
)

func TestStandardLogger_Levels(t *testing.T) {
	tests := []struct {
		name   string
		call   func(*StandardLogger)
		prefix string
		want   string
	}{
		{"info", func(l *StandardLogger) { l.Info("<< I: %s", "/a/b") }, "[INFO]", "<< I: /a/b"},
		{"warning", func(l *StandardLogger) { l.Warning("retry %d/%d", 2, 3) }, "[WARNING]", "retry 2/3"},
		{"error", func(l *StandardLogger) { l.Error("failed: %v", "boom") }, "[ERROR]", "failed: boom"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			l := NewStandardLogger(log.New(buf, "", 0))
			tt.call(l)
			out := buf.String()
			if !strings.Contains(out, tt.prefix) {
				t.Errorf("expected %s prefix, got: %s", tt.prefix, out)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q, got: %s", tt.want, out)
			}
		})
	}
}

func TestNew_RoleTag(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(buf, "manager")
	l.Info("hello")
	if !strings.HasPrefix(buf.String(), "[manager] ") {
		t.Fatalf("expected role tag, got: %s", buf.String())
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close on a console logger: %v", err)
	}
}

func TestOpen_AppendsToFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/var/log/gepd.log", []byte("earlier\n"), 0640); err != nil {
		t.Fatal(err)
	}
	l, err := Open(fs, "/var/log/gepd.log", "producer")
	if err != nil {
		t.Fatal(err)
	}
	l.Warning("no E-KEY for %s", "20160321T080000")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	b, err := afero.ReadFile(fs, "/var/log/gepd.log")
	if err != nil {
		t.Fatal(err)
	}
	got := string(b)
	if !strings.HasPrefix(got, "earlier\n[producer] ") || !strings.Contains(got, "[WARNING] no E-KEY for 20160321T080000") {
		t.Errorf("file = %q", got)
	}
}

func TestOpen_BadPath(t *testing.T) {
	if _, err := Open(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/gepd.log", "hub"); err == nil {
		t.Fatal("expected an error opening a log on a read-only fs")
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Info("test")
	l.Warning("test")
	l.Error("test")
	if err := l.Close(); err != nil {
		t.Errorf("expected nil error, got: %v", err)
	}
}

func TestMockLogger_RecordsCalls(t *testing.T) {
	l := NewMockLogger()
	l.Info("info %d", 1)
	l.Info("info %d", 2)
	l.Warning("warn %s", "test")
	l.Error("err %v", "fail")

	if got := l.InfoCalls(); len(got) != 2 || got[0] != "info 1" || got[1] != "info 2" {
		t.Errorf("unexpected info calls: %v", got)
	}
	if got := l.WarningCalls(); len(got) != 1 || got[0] != "warn test" {
		t.Errorf("unexpected warning calls: %v", got)
	}
	if got := l.ErrorCalls(); len(got) != 1 || got[0] != "err fail" {
		t.Errorf("unexpected error calls: %v", got)
	}
	if !l.Contains("warn") || l.Contains("missing") {
		t.Error("Contains mismatch")
	}
	_ = l.Close()
	if !l.CloseCalled() {
		t.Error("expected CloseCalled")
	}
}

func TestMockLogger_Concurrent(t *testing.T) {
	l := NewMockLogger()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l.Info("msg %d", n)
		}(i)
	}
	wg.Wait()
	if got := len(l.InfoCalls()); got != 20 {
		t.Fatalf("expected 20 calls, got %d", got)
	}
}

type failingCloser struct{ NopLogger }

func (f *failingCloser) Close() error { return errors.New("close failed") }

func TestMultiLogger(t *testing.T) {
	a, b := NewMockLogger(), NewMockLogger()
	m := NewMultiLogger(a, &failingCloser{}, b)
	m.Info("i")
	m.Warning("w")
	m.Error("e")
	for _, l := range []*MockLogger{a, b} {
		if len(l.InfoCalls()) != 1 || len(l.WarningCalls()) != 1 || len(l.ErrorCalls()) != 1 {
			t.Fatalf("expected fan-out to every backend")
		}
	}
	if err := m.Close(); err == nil || !strings.Contains(err.Error(), "close failed") {
		t.Fatalf("expected the close error, got %v", err)
	}
	if !a.CloseCalled() || !b.CloseCalled() {
		t.Fatal("expected every backend to be closed")
	}
}
