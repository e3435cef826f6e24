// Package preview draws images in the terminal.
package preview

import (
	"image"
	"image/color"
	"io"

	"github.com/eliukblau/pixterm/pkg/ansimage"
	"github.com/mattn/go-sixel"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	fallbackCols = 80
	fallbackRows = 24
)

// Terminal renders to Writer, sized from the window behind Fd.
type Terminal struct {
	Writer  io.Writer
	Fd      int
	Sixel   bool
	Flicker bool // clear the screen first
}

func (t *Terminal) Render(img image.Image) error {
	if img == nil {
		return errors.New("nil image")
	}
	if t.Flicker {
		if _, err := io.WriteString(t.Writer, "\033[H\033[2J"); err != nil {
			return err
		}
	}
	if t.Sixel {
		return errors.Wrap(sixel.NewEncoder(t.Writer).Encode(img), "sixel.Encode")
	}

	cols, rows := t.size()
	ansi, err := ansimage.NewScaledFromImage(img, ansimage.BlockSizeY*rows, ansimage.BlockSizeX*cols,
		color.Black, ansimage.ScaleModeFit, ansimage.DitheringWithChars)
	if err != nil {
		return errors.Wrap(err, "ansimage.NewScaledFromImage")
	}
	_, err = io.WriteString(t.Writer, ansi.Render())
	return err
}

// size is the window in character cells, leaving a row for the prompt.
func (t *Terminal) size() (cols, rows int) {
	ws, err := unix.IoctlGetWinsize(t.Fd, unix.TIOCGWINSZ)
	if err != nil || ws.Col == 0 || ws.Row < 2 {
		return fallbackCols, fallbackRows
	}
	return int(ws.Col), int(ws.Row) - 1
}
