package face

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/gepd/gepd/common"
)

// MaxFrameSize bounds a single frame on the wire.
const MaxFrameSize = 8 << 20

func intToBytes(v uint32) []byte {
	b := make([]byte, 4)
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	return b
}

func bytesToInt(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func read(mu *sync.Mutex, r io.Reader) ([]byte, error) {
	mu.Lock()
	defer mu.Unlock()
	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}
	n := bytesToInt(head)
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func write(mu *sync.Mutex, w io.Writer, b []byte) error {
	if len(b) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(b))
	}
	mu.Lock()
	defer mu.Unlock()
	// Header and body go out in a single write.
	_, err := w.Write(append(intToBytes(uint32(len(b))), b...))
	return err
}

// SyncConn serializes frame reads and writes on a connection.
type SyncConn struct {
	Conn     net.Conn
	rmu, wmu sync.Mutex
}

func NewSyncConn(conn net.Conn) *SyncConn {
	return &SyncConn{Conn: conn}
}

func (s *SyncConn) Write(b []byte) error {
	return write(&s.wmu, s.Conn, b)
}

func (s *SyncConn) Read() ([]byte, error) {
	return read(&s.rmu, s.Conn)
}

// WriteFrame encodes f and writes it as one frame.
func (s *SyncConn) WriteFrame(f *common.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.Write(b)
}

// ReadFrame reads and decodes one frame.
func (s *SyncConn) ReadFrame() (*common.Frame, error) {
	b, err := s.Read()
	if err != nil {
		return nil, err
	}
	var f common.Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return &f, nil
}

func (s *SyncConn) Close() error {
	return s.Conn.Close()
}
