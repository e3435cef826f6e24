package main

import (
	"context"
	"fmt"

	"github.com/mattn/go-tty"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const quitKey = 'q'

func scanKeys(ctx context.Context) error {
	tty, err := tty.Open()
	if err != nil {
		return errors.Wrap(err, "tty.Open")
	}
	defer tty.Close()

	keyMap['?'].cb(ctx)
	for {
		r, err := tty.ReadRune()
		if err != nil {
			return errors.Wrap(err, "tty.ReadRune")
		}
		if r == quitKey {
			return nil
		}
		h, ok := keyMap[r]
		if !ok {
			continue
		}
		h.cb(ctx)
	}
}

type kmt = map[rune]struct {
	cb   func(context.Context)
	desc string
}

var keyMap kmt

func nudge(delta int) func(context.Context) {
	return func(c context.Context) {
		if _, err := current.Nudge(delta); err != nil {
			log.WithError(err).Warn("threshold")
			return
		}
		report()
	}
}

func init() {
	keyMap = kmt{
		'+': {cb: nudge(1), desc: "Raise threshold by 1"},
		'-': {cb: nudge(-1), desc: "Lower threshold by 1"},
		']': {cb: nudge(10), desc: "Raise threshold by 10"},
		'[': {cb: nudge(-10), desc: "Lower threshold by 10"},
		'r': {
			cb: func(c context.Context) {
				if _, err := current.ResetThreshold(); err != nil {
					log.WithError(err).Warn("reset")
					return
				}
				report()
			},
			desc: "Reset threshold to the mean depth",
		},
		's': {
			cb: func(c context.Context) {
				if err := save(flags.Out); err != nil {
					log.WithError(err).Error("save")
				}
			},
			desc: "Save png",
		},
		'p': {
			cb:   func(c context.Context) { render() },
			desc: "Preview in terminal",
		},
		'f': {
			cb: func(c context.Context) {
				fmt.Println(currentBridge.State())
			},
			desc: "Get current state",
		},
		quitKey: {
			cb:   func(c context.Context) {},
			desc: "Quit",
		},
		'?': {
			desc: "Help",
			cb: func(c context.Context) {
				keys := maps.Keys(keyMap)
				slices.Sort(keys)
				for _, k := range keys {
					fmt.Printf("%s\t%s\n", string(k), keyMap[k].desc)
				}
			},
		},
	}
}
