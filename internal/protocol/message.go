// Package protocol defines the messages exchanged with the inference worker.
package protocol

import (
	"github.com/WIZARDISHUNGRY/depthcut/internal/depth"
	"github.com/WIZARDISHUNGRY/depthcut/internal/fault"
)

type Type string

const (
	TypeReadyCheck     Type = "ready-check"
	TypeEstimate       Type = "estimate"
	TypeReady          Type = "ready"
	TypeEstimateResult Type = "estimate-result"
	TypeError          Type = "error"
)

// UnknownMessage is the error text sent back for a request of an unrecognised type.
const UnknownMessage = "unknown message"

// Message is the envelope for every request and response. Which fields are set depends on Type.
type Message struct {
	Type Type
	ID   string // correlates estimate requests with their responses

	Image   []byte      // estimate
	Backend string      // ready
	Depth   *DepthFrame // estimate-result
	Kind    fault.Kind  // error
	Text    string      // error
}

// DepthFrame is the wire form of a depth.Map.
type DepthFrame struct {
	Width, Height, Channels int
	Data                    []uint8
}

func NewDepthFrame(m *depth.Map) *DepthFrame {
	return &DepthFrame{
		Width:    m.Width(),
		Height:   m.Height(),
		Channels: m.Channels(),
		Data:     m.Data(),
	}
}

// Map validates the frame and converts it back into a depth.Map.
func (f *DepthFrame) Map() (*depth.Map, error) {
	if f == nil {
		return nil, fault.New(fault.ProtocolError, "estimate-result without a depth map")
	}
	return depth.New(f.Width, f.Height, f.Channels, f.Data)
}

func ReadyCheck() *Message { return &Message{Type: TypeReadyCheck} }

func Estimate(id string, image []byte) *Message {
	return &Message{Type: TypeEstimate, ID: id, Image: image}
}

func Ready(backend string) *Message { return &Message{Type: TypeReady, Backend: backend} }

func EstimateResult(id string, m *depth.Map) *Message {
	return &Message{Type: TypeEstimateResult, ID: id, Depth: NewDepthFrame(m)}
}

// Error builds an error response; the kind and message are taken from err when it is a *fault.Error.
func Error(id string, kind fault.Kind, err error) *Message {
	msg := &Message{Type: TypeError, ID: id, Kind: kind, Text: string(kind)}
	if err == nil {
		return msg
	}
	if k := fault.KindOf(err); k != "" {
		msg.Kind = k
	}
	msg.Text = err.Error()
	return msg
}
