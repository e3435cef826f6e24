package worker

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"

	"github.com/pkg/errors"
)

// Parent re-executes the current binary with -worker and connects to it over a unix socket passed
// as WORKER_FD. A child that exits is not respawned.
type Parent struct {
	// Args are passed to the child before -worker. Defaults to os.Args[1:].
	Args []string

	mutex    sync.Mutex
	cmd      *exec.Cmd
	listener *net.UnixListener
}

func (w *Parent) Spawn(ctx context.Context) (net.Conn, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.cmd != nil {
		return nil, errors.New("worker process already spawned")
	}

	args := w.Args
	if args == nil {
		args = os.Args[1:]
	}
	args = append(append([]string{}, args...), "-worker")

	ul, err := net.ListenUnix("unix", &net.UnixAddr{Net: "unix"})
	if err != nil {
		return nil, errors.Wrap(err, "net.ListenUnix")
	}
	w.listener = ul

	f, err := ul.File()
	if err != nil {
		ul.Close()
		return nil, errors.Wrap(err, "listener.File")
	}
	defer f.Close() // the child has its own copy once started

	cmd := exec.CommandContext(ctx, os.Args[0], args...)
	cmd.Stdin = nil
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := setExtraFile(cmd, WORKER_FD, f); err != nil {
		ul.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		ul.Close()
		return nil, fmt.Errorf("couldn't spawn child: %w", err)
	}
	w.cmd = cmd

	conn, err := net.DialUnix("unix", nil, ul.Addr().(*net.UnixAddr))
	if err != nil {
		cmd.Process.Kill()
		ul.Close()
		return nil, errors.Wrap(err, "net.DialUnix")
	}

	go w.wait(cmd)
	log.WithField("pid", cmd.Process.Pid).Debug("spawned worker process")
	return conn, nil
}

func (w *Parent) wait(cmd *exec.Cmd) {
	err := cmd.Wait()
	log.WithError(err).WithField("exit_code", cmd.ProcessState.ExitCode()).Info("worker process exited")

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.listener != nil {
		w.listener.Close()
		w.listener = nil
	}
}

func setExtraFile(cmd *exec.Cmd, fd int, f *os.File) error {
	extraFilesOffset := fd - 3 // stdin, stout, stderr, extrafiles...
	if len(cmd.ExtraFiles) != extraFilesOffset {
		return fmt.Errorf("len(cmd.ExtraFiles) != extraFilesOffset (%d != %d) ",
			len(cmd.ExtraFiles), extraFilesOffset)
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, f)
	return nil
}
