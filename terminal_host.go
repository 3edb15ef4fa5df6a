package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

const (
	terminalFlushInterval = 20 * time.Millisecond

	// Raw mode turns off ISIG, so Ctrl-C arrives as a byte.
	keyInterrupt = 0x03
)

// TerminalHost is the console device behind the PUTCHAR hook. Guest output is
// buffered and flushed by Run; when the input side is a tty it is put in raw
// mode and its keystrokes are offered on Keys.
type TerminalHost struct {
	out io.Writer
	in  *os.File

	mu  sync.Mutex
	buf bytes.Buffer

	keys         chan byte
	onInterrupt  func()
	owned        *os.File
	fd           int
	nonblockSet  bool
	oldTermState *term.State
}

// NewTerminalHost creates a host adapter writing to out and, if in is not
// nil, reading keystrokes from it.
func NewTerminalHost(out io.Writer, in *os.File) *TerminalHost {
	return &TerminalHost{
		out:  out,
		in:   in,
		keys: make(chan byte, 64),
	}
}

// OpenTerminal opens the console device at path. An empty path or "-" uses
// stdout and stdin.
func OpenTerminal(path string) (*TerminalHost, error) {
	if path == "" || path == "-" {
		return NewTerminalHost(os.Stdout, os.Stdin), nil
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "opening terminal: %v", err)
	}
	h := NewTerminalHost(f, f)
	h.owned = f
	return h, nil
}

// Write buffers guest output. It never blocks on the device.
func (h *TerminalHost) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.Write(p)
}

// Flush writes any buffered output to the device.
func (h *TerminalHost) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.buf.Len() == 0 {
		return nil
	}
	_, err := h.buf.WriteTo(h.out)
	return errors.Wrap(err, "terminal output")
}

// Keys delivers host keystrokes. Nothing is sent unless the input is a tty.
func (h *TerminalHost) Keys() <-chan byte {
	return h.keys
}

// OnInterrupt sets fn to run when Ctrl-C is typed on a raw-mode tty. The
// key is not passed to the guest. Set it before Run.
func (h *TerminalHost) OnInterrupt(fn func()) {
	h.onInterrupt = fn
}

// deliverKey hands one raw input byte to the guest. Keys are dropped when
// the guest is not keeping up.
func (h *TerminalHost) deliverKey(b byte) {
	switch b {
	case keyInterrupt:
		if h.onInterrupt != nil {
			h.onInterrupt()
			return
		}
	case 0x7F: // modern terminals send DEL for Backspace
		b = 0x08
	}
	select {
	case h.keys <- b:
	default:
	}
}

// Run pumps output to the device until ctx is done, then flushes what is
// left and restores the tty.
func (h *TerminalHost) Run(ctx context.Context) error {
	inputDone := h.startInput(ctx)
	defer h.restore(inputDone)

	ticker := time.NewTicker(terminalFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return h.Flush()
		case <-ticker.C:
			if err := h.Flush(); err != nil {
				return err
			}
		}
	}
}

// Close releases a device opened by OpenTerminal.
func (h *TerminalHost) Close() error {
	if h.owned == nil {
		return nil
	}
	return h.owned.Close()
}
