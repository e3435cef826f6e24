package main

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/WIZARDISHUNGRY/depthcut/internal/acquire"
	"github.com/WIZARDISHUNGRY/depthcut/internal/bridge"
	"github.com/WIZARDISHUNGRY/depthcut/internal/config"
	"github.com/WIZARDISHUNGRY/depthcut/internal/estimator"
	"github.com/WIZARDISHUNGRY/depthcut/internal/session"
	"github.com/WIZARDISHUNGRY/depthcut/internal/worker"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (string, *logtest.Hook) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cs, err := estimator.Candidates([]string{estimator.Portable}, estimator.Options{WorkSize: 64})
	require.NoError(t, err)
	b, err := bridge.New(ctx, &worker.InProcess{Handler: worker.NewHandler(cs)})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	out := filepath.Join(t.TempDir(), "out.png")
	var hook *logtest.Hook
	log, hook = logtest.NewNullLogger()
	flags = &config.Flags{Out: out}
	current = session.New(b)
	return out, hook
}

func TestProcessWritesResult(t *testing.T) {
	out, _ := setup(t)

	require.NoError(t, process(context.Background(), "", 0, true))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	require.Equal(t, 320, img.Bounds().Dx())
	require.Equal(t, 240, img.Bounds().Dy())

	require.Equal(t, acquire.DefaultName, current.Name())
	require.Equal(t, current.Depth().MeanThreshold(), current.Threshold())
}

func TestProcessReportsAfterLoad(t *testing.T) {
	_, hook := setup(t)

	require.NoError(t, process(context.Background(), "", 42, false))
	require.Equal(t, 42, current.Threshold())

	var reported bool
	for _, e := range hook.AllEntries() {
		require.False(t, strings.HasSuffix(e.Message, ": "), "status logged before it was known: %q", e.Message)
		if e.Message == session.StatusChooseDepth {
			reported = true
			require.Equal(t, 42, e.Data["threshold"])
		}
	}
	require.True(t, reported)
}

func TestProcessMissingSource(t *testing.T) {
	out, _ := setup(t)

	require.Error(t, process(context.Background(), filepath.Join(t.TempDir(), "missing.png"), 0, true))
	_, err := os.Stat(out)
	require.True(t, os.IsNotExist(err))
}
