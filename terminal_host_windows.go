//go:build windows

package main

import (
	"context"

	"golang.org/x/term"
)

// startInput puts a console input in raw mode and reads it with blocking
// reads. The reader cannot be interrupted, so done is closed immediately and
// the goroutine ends with the process.
func (h *TerminalHost) startInput(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	close(done)
	if h.in == nil || !term.IsTerminal(int(h.in.Fd())) {
		return done
	}
	h.fd = int(h.in.Fd())

	oldState, err := term.MakeRaw(h.fd)
	if err != nil {
		return done
	}
	h.oldTermState = oldState

	go func() {
		buf := make([]byte, 1)
		for ctx.Err() == nil {
			n, err := h.in.Read(buf)
			if err != nil {
				return
			}
			if n == 0 {
				continue
			}
			h.deliverKey(buf[0])
		}
	}()
	return done
}

func (h *TerminalHost) restore(<-chan struct{}) {
	if h.oldTermState != nil {
		_ = term.Restore(h.fd, h.oldTermState)
		h.oldTermState = nil
	}
}
