package acquire

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/WIZARDISHUNGRY/depthcut/internal/fault"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	img.SetNRGBA(1, 1, color.NRGBA{R: 255, A: 255})
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestOpenDefault(t *testing.T) {
	img, err := Open(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, DefaultName, img.Name)
	require.Equal(t, image.Rect(0, 0, defaultWidth, defaultHeight), img.Decoded.Bounds())

	decoded, err := png.Decode(bytes.NewReader(img.Bytes))
	require.NoError(t, err)
	require.Equal(t, img.Decoded.Bounds(), decoded.Bounds())

	// the ball is brighter than the sky above it
	ball := color.GrayModel.Convert(img.Decoded.At(defaultWidth/2, defaultHeight/2)).(color.Gray)
	sky := color.GrayModel.Convert(img.Decoded.At(defaultWidth/2, 2)).(color.Gray)
	require.Greater(t, ball.Y, sky.Y)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t), 0o600))

	img, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "in.png", img.Name)
	require.Equal(t, "png", img.Format)
	require.Equal(t, 4, img.Decoded.Bounds().Dx())

	_, err = Open(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
}

func TestOpenUndecodable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	_, err := Open(context.Background(), path)
	require.True(t, fault.Is(err, fault.DecodeError), "%v", err)

	_, err = Decode("x", nil)
	require.True(t, fault.Is(err, fault.DecodeError), "%v", err)
}

func TestOpenURLIsCached(t *testing.T) {
	body := pngBytes(t)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "max-age=600")
		w.Write(body)
	}))
	defer srv.Close()

	for i := 0; i < 2; i++ {
		img, err := Open(context.Background(), srv.URL+"/pic.png")
		require.NoError(t, err)
		require.Equal(t, body, img.Bytes)
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestOpenURLBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Open(context.Background(), srv.URL+"/missing.png")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}
