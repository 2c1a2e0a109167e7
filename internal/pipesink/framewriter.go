package pipesink

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrWriteTimeout is returned when a frame could not be fully written to
// the child's pipe before its deadline elapses (5 frame periods).
var ErrWriteTimeout = errors.New("pipesink: frame write timeout")

// frameWriter splits a raw frame into the I/O vector writev expects,
// honoring the "std" (linear) and "invert" (bottom-up row order)
// variants. It holds no state between frames; the restartable write
// loop lives in writeFrame below.
type frameWriter struct {
	invert bool
}

// chunks returns the frame's scanlines as a writev vector. "std" passes
// the buffer through as one chunk; "invert" walks rows back to front,
// the layout OpenGL readback and most video codecs disagree on.
func (fw frameWriter) chunks(pixels []byte, rowBytes uint32, height uint32) [][]byte {
	if !fw.invert || height == 0 {
		return [][]byte{pixels}
	}
	rows := make([][]byte, height)
	for i := uint32(0); i < height; i++ {
		start := i * rowBytes
		end := start + rowBytes
		if end > uint32(len(pixels)) {
			end = uint32(len(pixels))
		}
		rows[height-1-i] = pixels[start:end]
	}
	return rows
}

// maxIOV bounds the vector handed to one writev call; the kernel rejects
// anything past IOV_MAX (1024) with EINVAL, and an inverted 1080p frame
// alone carries more rows than that.
const maxIOV = 1024

// writeFrame writes every byte of chunks to fd, restarting on partial
// writes and waiting on epfd (registered EPOLLOUT|EPOLLET) whenever the
// pipe is full. It returns ErrWriteTimeout if deadline elapses first.
func writeFrame(fd int, epfd int, chunks [][]byte, deadline time.Time) error {
	for len(chunks) > 0 {
		batch := chunks
		if len(batch) > maxIOV {
			batch = batch[:maxIOV]
		}
		n, err := unix.Writev(fd, batch)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				if err := waitWritable(epfd, deadline); err != nil {
					return err
				}
				continue
			}
			if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, "pipesink: writev")
		}
		chunks = consumeWritten(chunks, n)
	}
	return nil
}

// consumeWritten drops the first n written bytes from chunks, trimming a
// partially-written chunk in place so the next writev call resumes
// exactly where the last one stopped.
func consumeWritten(chunks [][]byte, n int) [][]byte {
	for n > 0 && len(chunks) > 0 {
		if n < len(chunks[0]) {
			chunks[0] = chunks[0][n:]
			n = 0
			break
		}
		n -= len(chunks[0])
		chunks = chunks[1:]
	}
	return chunks
}

// waitWritable blocks on epfd until the registered fd reports EPOLLOUT,
// EPOLLERR/EPOLLHUP (surfaced as an error so the caller can treat the
// child as dead), or deadline passes.
func waitWritable(epfd int, deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return ErrWriteTimeout
	}
	ms := int(remaining / time.Millisecond)
	if ms <= 0 {
		ms = 1
	}

	var events [1]unix.EpollEvent
	for {
		n, err := unix.EpollWait(epfd, events[:], ms)
		if err != nil {
			if err == unix.EINTR {
				remaining = time.Until(deadline)
				if remaining <= 0 {
					return ErrWriteTimeout
				}
				ms = int(remaining / time.Millisecond)
				if ms <= 0 {
					ms = 1
				}
				continue
			}
			return errors.Wrap(err, "pipesink: epoll_wait")
		}
		if n == 0 {
			return ErrWriteTimeout
		}
		if events[0].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			return errors.New("pipesink: child pipe closed (EPOLLERR/EPOLLHUP)")
		}
		return nil
	}
}
