// Package transport frames and deframes newline-delimited JSON over a duplex
// byte stream. Each inbound line is decoded independently: a line that fails
// to parse is answered with an INVALID_MESSAGE error envelope and never
// terminates the stream. All traffic, both directions, is mirrored to a
// write-only log sink.
package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"

	"agentbridge/protocol"
)

// maxLineSize bounds a single wire line. Agent output lines can carry whole
// file contents, so this is generous.
const maxLineSize = 16 * 1024 * 1024

// Handler receives each successfully decoded inbound message.
type Handler func(msg protocol.Message)

// Transport reads and writes one JSON object per line.
type Transport struct {
	w       io.Writer
	scanner *bufio.Scanner
	log     *zap.Logger
	traffic TrafficLog

	wmu     sync.Mutex
	handler Handler

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the diagnostics logger.
func WithLogger(log *zap.Logger) Option {
	return func(t *Transport) { t.log = log }
}

// WithTrafficLog mirrors every line, both directions, to the given sink.
func WithTrafficLog(tl TrafficLog) Option {
	return func(t *Transport) { t.traffic = tl }
}

// New creates a transport over the given writer/reader pair. Call OnMessage
// to install a handler, then Start to begin reading.
func New(w io.Writer, r io.Reader, opts ...Option) *Transport {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	t := &Transport{
		w:       w,
		scanner: scanner,
		log:     zap.NewNop(),
		traffic: nopTrafficLog{},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnMessage installs the inbound message handler. Must be called before
// Start.
func (t *Transport) OnMessage(h Handler) {
	t.handler = h
}

// Start launches the read loop.
func (t *Transport) Start() {
	go t.readLoop()
}

// Done is closed once the inbound stream has ended.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

func (t *Transport) readLoop() {
	defer t.closeOnce.Do(func() { close(t.done) })

	for t.scanner.Scan() {
		line := bytes.TrimSpace(t.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// Scanner reuses its buffer, so work on a copy.
		buf := make([]byte, len(line))
		copy(buf, line)

		t.traffic.Record(FdIn, buf)

		msg, err := protocol.Decode(buf)
		if err != nil {
			t.log.Warn("invalid inbound line", zap.Error(err))
			if serr := t.Send(protocol.NewErrorMessage(protocol.CodeInvalidMessage, err.Error())); serr != nil {
				t.log.Warn("report invalid line", zap.Error(serr))
			}
			continue
		}
		if t.handler != nil {
			t.handler(msg)
		}
	}
	if err := t.scanner.Err(); err != nil {
		t.log.Warn("read loop ended", zap.Error(err))
	}
}

// Send writes one message as a single JSON line. Safe for concurrent use.
func (t *Transport) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.w.Write(append(data, '\n')); err != nil {
		return err
	}
	t.traffic.Record(FdOut, data)
	return nil
}

// Close stops the transport. The underlying writer is closed when it
// supports closing, which unblocks the peer's read side.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	if c, ok := t.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
