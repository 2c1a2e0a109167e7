package pipesink

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lanikai/glcs/internal/logging"
	"github.com/lanikai/glcs/internal/message"
)

// child wraps the spawned consumer process and the write end of the pipe
// feeding it.
type child struct {
	cmd      *exec.Cmd
	writeEnd *os.File
	epfd     int
	fps      float64
}

// spawnChild creates a pipe, enlarges its buffer to hold 15 frames,
// spawns exe with argv (basename(exe), "WxH", pixfmt, fps, targetFile)
// so the child sees the same argv[0] an external encoder like ffmpeg
// expects, and registers the non-blocking write end on an edge-triggered
// epoll set.
//
// Go's os/exec already gives every spawned child a fresh file descriptor
// table and lets execve reset signal dispositions to default, so this
// is expressed as Cmd.Stdin plus Cmd.Start rather than hand-rolled
// fork/exec.
func spawnChild(log *logging.Logger, exe string, width, height uint32, pixfmt message.PixelFormat, fps float64, targetFile string, frameBytes int) (*child, error) {
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "pipesink: create pipe")
	}
	defer readEnd.Close()

	if err := enlargePipe(int(writeEnd.Fd()), frameBytes); err != nil {
		log.Warn("pipesink: enlarge pipe buffer: %v", err)
	}

	argv := []string{
		fmt.Sprintf("%dx%d", width, height),
		pixfmt.String(),
		fmt.Sprintf("%f", fps),
		targetFile,
	}
	cmd := exec.Command(exe, argv...)
	cmd.Args[0] = filepath.Base(exe)
	cmd.Stdin = readEnd
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	ignoreSigpipeIfUnhandled()
	warnIfSigchldHandled(log)

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "pipesink: spawn child")
	}

	if err := unix.SetNonblock(int(writeEnd.Fd()), true); err != nil {
		cmd.Process.Kill()
		return nil, errors.Wrap(err, "pipesink: set pipe non-blocking")
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		cmd.Process.Kill()
		return nil, errors.Wrap(err, "pipesink: epoll_create1")
	}
	ev := unix.EpollEvent{Events: unix.EPOLLOUT | unix.EPOLLET, Fd: int32(writeEnd.Fd())}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, int(writeEnd.Fd()), &ev); err != nil {
		unix.Close(epfd)
		cmd.Process.Kill()
		return nil, errors.Wrap(err, "pipesink: epoll_ctl")
	}

	return &child{cmd: cmd, writeEnd: writeEnd, epfd: epfd, fps: fps}, nil
}

// enlargePipe grows the pipe's kernel buffer to 15 uncompressed frames
// of headroom using fcntl(F_SETPIPE_SZ), so a slow child doesn't
// immediately stall the capture thread on the first write.
func enlargePipe(fd, frameBytes int) error {
	const framesOfHeadroom = 15
	_, err := unix.FcntlInt(uintptr(fd), unix.F_SETPIPE_SZ, framesOfHeadroom*frameBytes)
	return err
}

var sigpipeIgnored bool

// ignoreSigpipeIfUnhandled ignores SIGPIPE once per process, so a write
// to an already-dead child doesn't kill the whole capture pipeline. It
// leaves SIGPIPE alone only when it is already ignored; a SIGPIPE handler
// registered through os/signal is replaced.
func ignoreSigpipeIfUnhandled() {
	if sigpipeIgnored {
		return
	}
	if !signal.Ignored(syscall.SIGPIPE) {
		signal.Ignore(syscall.SIGPIPE)
	}
	sigpipeIgnored = true
}

// warnIfSigchldHandled logs a warning that a host SIGCHLD handler can race
// this package's own cmd.Wait(). It stays silent only when SIGCHLD is
// ignored; it does not detect whether a handler is registered, so the
// warning is also logged when SIGCHLD has its default disposition.
func warnIfSigchldHandled(log *logging.Logger) {
	if signal.Ignored(syscall.SIGCHLD) {
		return
	}
	log.Warn("pipesink: host process may be handling SIGCHLD; this can race child process reaping")
}

// shutdown closes the write end, waits up to 5/fps for a clean exit,
// escalates to SIGINT up to three times with 2s+5/fps grace each, then
// SIGKILL. The child's exit status is logged either way.
func (c *child) shutdown(log *logging.Logger) error {
	unix.EpollCtl(c.epfd, unix.EPOLL_CTL_DEL, int(c.writeEnd.Fd()), nil)
	unix.Close(c.epfd)
	c.writeEnd.Close()

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	frameInterval := time.Second
	if c.fps > 0 {
		frameInterval = time.Duration(float64(time.Second) / c.fps)
	}

	if err, ok := waitFor(done, 5*frameInterval); ok {
		logExit(log, err)
		return nil
	}

	grace := 2*time.Second + 5*frameInterval
	for attempt := 1; attempt <= 3; attempt++ {
		log.Warn("pipesink: child did not exit, sending SIGINT (attempt %d)", attempt)
		c.cmd.Process.Signal(syscall.SIGINT)
		if err, ok := waitFor(done, grace); ok {
			logExit(log, err)
			return nil
		}
	}

	log.Warn("pipesink: child unresponsive to SIGINT, sending SIGKILL")
	c.cmd.Process.Kill()
	logExit(log, <-done)
	return nil
}

// waitFor blocks for at most timeout, reporting whether done produced a
// result in time.
func waitFor(done <-chan error, timeout time.Duration) (error, bool) {
	select {
	case err := <-done:
		return err, true
	case <-time.After(timeout):
		return nil, false
	}
}

func logExit(log *logging.Logger, err error) {
	if err != nil {
		log.Info("pipesink: child exited: %v", err)
	} else {
		log.Info("pipesink: child exited cleanly")
	}
}
