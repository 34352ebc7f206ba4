package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message is one multipart control-channel message: a 4-byte code
// followed by data parts in the order the message's fields are declared.
type Message struct {
	Code  uint32
	Parts [][]byte
}

// NewMessage starts a message with the given code.
func NewMessage[C ~uint32](code C) *Message {
	return &Message{Code: uint32(code)}
}

// AppendString appends a null-terminated string part.
func (m *Message) AppendString(s string) *Message {
	part := make([]byte, len(s)+1)
	copy(part, s)
	m.Parts = append(m.Parts, part)
	return m
}

// AppendBool appends a raw bool part.
func (m *Message) AppendBool(v bool) *Message {
	b := byte(0)
	if v {
		b = 1
	}
	m.Parts = append(m.Parts, []byte{b})
	return m
}

// AppendInt appends a raw int part.
func (m *Message) AppendInt(v int32) *Message {
	part := make([]byte, 4)
	binary.BigEndian.PutUint32(part, uint32(v))
	m.Parts = append(m.Parts, part)
	return m
}

// AppendUint64 appends a raw 64-bit part (event IDs).
func (m *Message) AppendUint64(v uint64) *Message {
	part := make([]byte, 8)
	binary.BigEndian.PutUint64(part, v)
	m.Parts = append(m.Parts, part)
	return m
}

// String reads part i as a null-terminated string.
func (m *Message) String(i int) (string, error) {
	part, err := m.part(i)
	if err != nil {
		return "", err
	}
	if len(part) == 0 || part[len(part)-1] != 0 {
		return "", fmt.Errorf("part %d is not a null-terminated string", i)
	}
	return string(part[:len(part)-1]), nil
}

// Bool reads part i as a raw bool.
func (m *Message) Bool(i int) (bool, error) {
	part, err := m.part(i)
	if err != nil {
		return false, err
	}
	if len(part) != 1 {
		return false, fmt.Errorf("part %d is not a bool", i)
	}
	return part[0] != 0, nil
}

// Int reads part i as a raw int.
func (m *Message) Int(i int) (int32, error) {
	part, err := m.part(i)
	if err != nil {
		return 0, err
	}
	if len(part) != 4 {
		return 0, fmt.Errorf("part %d is not an int", i)
	}
	return int32(binary.BigEndian.Uint32(part)), nil
}

// Uint64 reads part i as a raw 64-bit value.
func (m *Message) Uint64(i int) (uint64, error) {
	part, err := m.part(i)
	if err != nil {
		return 0, err
	}
	if len(part) != 8 {
		return 0, fmt.Errorf("part %d is not a 64-bit value", i)
	}
	return binary.BigEndian.Uint64(part), nil
}

func (m *Message) part(i int) ([]byte, error) {
	if i < 0 || i >= len(m.Parts) {
		return nil, fmt.Errorf("message %d has no part %d", m.Code, i)
	}
	return m.Parts[i], nil
}

// maxPartSize bounds a single decoded part, as a corrupted-stream guard.
const maxPartSize = 1 << 24

// Write frames the message onto w: the 4-byte code, the part count, then
// each part length-prefixed.
func (m *Message) Write(w io.Writer) error {
	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], m.Code)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(m.Parts)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	for _, part := range m.Parts {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(part)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

// ReadMessage decodes one framed message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	m := &Message{Code: binary.BigEndian.Uint32(header[0:4])}
	count := binary.BigEndian.Uint32(header[4:8])
	if count > 1024 {
		return nil, fmt.Errorf("message %d claims %d parts", m.Code, count)
	}
	for i := uint32(0); i < count; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		size := binary.BigEndian.Uint32(lenBuf[:])
		if size > maxPartSize {
			return nil, fmt.Errorf("message %d part %d claims %d bytes", m.Code, i, size)
		}
		part := make([]byte, size)
		if _, err := io.ReadFull(r, part); err != nil {
			return nil, err
		}
		m.Parts = append(m.Parts, part)
	}
	return m, nil
}
