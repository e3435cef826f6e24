package bridge

import (
	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
)

const (
	stateNotStarted    = "not_started"
	stateAwaitingReady = "awaiting_ready"
	stateReady         = "ready"
	stateFailed        = "failed"

	jobIdle          = "idle"
	jobAwaitingDepth = "awaiting_depth"

	eventSpawn    = "spawn"
	eventReady    = "ready"
	eventFail     = "fail"
	eventEstimate = "estimate"
	eventSettle   = "settle"
)

func newReadinessFSM(log *logrus.Entry) *fsm.FSM {
	return fsm.NewFSM(
		stateNotStarted,
		fsm.Events{
			{Name: eventSpawn, Src: []string{stateNotStarted}, Dst: stateAwaitingReady},
			{Name: eventReady, Src: []string{stateAwaitingReady}, Dst: stateReady},
			{Name: eventFail, Src: []string{stateNotStarted, stateAwaitingReady, stateReady}, Dst: stateFailed},
		},
		fsm.Callbacks{
			"after_event": func(e *fsm.Event) {
				if log != nil && e.Src != e.Dst {
					log.Debugf("[%s -> %s] %s", e.Src, e.Dst, e.Event)
				}
			},
		},
	)
}

// At most one job is ever in awaiting_depth.
func newJobFSM(log *logrus.Entry) *fsm.FSM {
	return fsm.NewFSM(
		jobIdle,
		fsm.Events{
			{Name: eventEstimate, Src: []string{jobIdle}, Dst: jobAwaitingDepth},
			{Name: eventSettle, Src: []string{jobAwaitingDepth}, Dst: jobIdle},
		},
		fsm.Callbacks{
			"after_event": func(e *fsm.Event) {
				if log != nil {
					log.Tracef("job [%s -> %s] %s", e.Src, e.Dst, e.Event)
				}
			},
		},
	)
}

// Visualize renders both bridge state machines in graphviz format.
//
//go:generate sh -c "cd ../../ && go run ./cmd/depthcut -dump-fsm | dot -Tsvg /dev/stdin -o bridge.svg"
func Visualize() string {
	return fsm.Visualize(newReadinessFSM(nil)) + fsm.Visualize(newJobFSM(nil))
}

// event fires name on f. PRE: b.mutex held.
func (b *Bridge) event(f *fsm.FSM, name string) {
	err := f.Event(name)
	if _, ok := err.(fsm.NoTransitionError); err != nil && !ok {
		b.log.WithError(err).WithField("event", name).Error("bridge state machine")
	}
}
