//go:build !windows

package main

import (
	"context"
	"syscall"
	"time"

	"golang.org/x/term"
)

// startInput switches a tty input to raw, non-blocking mode and starts the
// key reader. The returned channel closes when the reader exits.
func (h *TerminalHost) startInput(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if h.in == nil || !term.IsTerminal(int(h.in.Fd())) {
		close(done)
		return done
	}
	h.fd = int(h.in.Fd())

	oldState, err := term.MakeRaw(h.fd)
	if err != nil {
		close(done)
		return done
	}
	h.oldTermState = oldState

	if err := syscall.SetNonblock(h.fd, true); err != nil {
		close(done)
		return done
	}
	h.nonblockSet = true

	go func() {
		defer close(done)
		buf := make([]byte, 1)
		for {
			if ctx.Err() != nil {
				return
			}
			n, err := syscall.Read(h.fd, buf)
			if n > 0 {
				h.deliverKey(buf[0])
				continue
			}
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK || (err == nil && n == 0) {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			if err != nil {
				return
			}
		}
	}()
	return done
}

func (h *TerminalHost) restore(inputDone <-chan struct{}) {
	<-inputDone
	if h.nonblockSet {
		_ = syscall.SetNonblock(h.fd, false)
		h.nonblockSet = false
	}
	if h.oldTermState != nil {
		_ = term.Restore(h.fd, h.oldTermState)
		h.oldTermState = nil
	}
}

