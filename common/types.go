package common

import "encoding/json"

// Frame is the JSON envelope exchanged over hub and repo connections.
// ID correlates a reply with its request; zero means unsolicited.
type Frame struct {
	Method  Method          `json:"method"`
	ID      uint64          `json:"id,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

// RegisterParams asks the hub to route interests under Prefix to the sender.
type RegisterParams struct {
	Prefix string `json:"prefix"`
}

// PacketParams carries one encoded Interest or Data.
type PacketParams struct {
	Wire []byte `json:"wire"`
}

// InsertParams asks the repo to store a batch of encoded Data packets.
type InsertParams struct {
	Token   string   `json:"token"`
	Packets [][]byte `json:"packets"`
}

// NewFrame marshals msg into a frame.
func NewFrame(method Method, id uint64, msg any) (*Frame, error) {
	f := &Frame{Method: method, ID: id}
	if msg == nil {
		return f, nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	f.Message = b
	return f, nil
}

// Decode unmarshals the frame message into v.
func (f *Frame) Decode(v any) error {
	return json.Unmarshal(f.Message, v)
}
