package protocol

import (
	"encoding/gob"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Encoder writes messages to one connection. It is safe for concurrent use; messages are written
// whole and in call order.
type Encoder struct {
	mutex sync.Mutex
	enc   *gob.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: gob.NewEncoder(w)}
}

func (e *Encoder) Encode(m *Message) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return errors.Wrapf(e.enc.Encode(m), "encode %s", m.Type)
}

// Decoder reads messages from one connection. It is not safe for concurrent use.
type Decoder struct {
	dec *gob.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: gob.NewDecoder(r)}
}

// Decode returns io.EOF unwrapped when the peer closed the connection cleanly.
func (d *Decoder) Decode() (*Message, error) {
	var m Message
	if err := d.dec.Decode(&m); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, errors.Wrap(err, "decode message")
	}
	return &m, nil
}
