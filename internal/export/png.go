// Package export writes results to disk formats.
package export

import (
	"image"
	"image/png"
	"io"
	"sync"

	"github.com/pkg/errors"
)

var encoder = png.Encoder{
	CompressionLevel: png.DefaultCompression,
	BufferPool:       sharedBufferPool,
}

// PNG encodes img, keeping its alpha channel.
func PNG(w io.Writer, img image.Image) error {
	if img == nil {
		return errors.New("nil image")
	}
	return errors.Wrap(encoder.Encode(w, img), "png.Encode")
}

type bufferPool sync.Pool

var _ png.EncoderBufferPool = (*bufferPool)(nil)

var sharedBufferPool *bufferPool = (*bufferPool)(&sync.Pool{
	New: func() any {
		return &png.EncoderBuffer{}
	},
})

func (bp *bufferPool) Get() *png.EncoderBuffer {
	return (*sync.Pool)(bp).Get().(*png.EncoderBuffer)
}
func (bp *bufferPool) Put(eb *png.EncoderBuffer) {
	(*sync.Pool)(bp).Put(eb)
}
