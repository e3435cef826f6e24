// Package acquire loads the image to be cut out from a file, a URL or the built-in default.
package acquire

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/WIZARDISHUNGRY/depthcut/internal/fault"
	"github.com/WIZARDISHUNGRY/depthcut/internal/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const maxImageBytes = 64 << 20

// Image keeps the encoded bytes for the worker alongside the decoded pixels for the compositor.
type Image struct {
	Name    string
	Format  string
	Bytes   []byte
	Decoded image.Image
}

// Open loads src: "" is the built-in default image, http(s) URLs are fetched, anything else is a
// file path.
func Open(ctx context.Context, src string) (*Image, error) {
	log := logger.Entry(ctx).WithField("src", src)
	switch {
	case src == "":
		return Default()
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		b, err := fetch(ctx, src)
		if err != nil {
			return nil, err
		}
		return decode(log, src, b)
	default:
		f, err := os.Open(src)
		if err != nil {
			return nil, errors.Wrap(err, "os.Open")
		}
		defer f.Close()
		b, err := readAll(f)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", src)
		}
		return decode(log, filepath.Base(src), b)
	}
}

// Decode wraps already encoded bytes.
func Decode(name string, b []byte) (*Image, error) {
	return decode(logrus.NewEntry(logger.Default), name, b)
}

func decode(log *logrus.Entry, name string, b []byte) (*Image, error) {
	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fault.Wrap(err, fault.DecodeError, "could not decode "+name)
	}
	log.WithFields(logrus.Fields{
		"format": format,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
	}).Debug("image loaded")
	return &Image{Name: name, Format: format, Bytes: b, Decoded: img}, nil
}

func readAll(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxImageBytes {
		return nil, errors.Errorf("image larger than %d bytes", maxImageBytes)
	}
	return b, nil
}
