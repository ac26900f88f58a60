// Package transport provides the byte pipe a Companion session runs its
// frame codec over: an interface the session consumes, and a concrete
// plain TCP implementation (Companion carries its own AEAD once
// pair-verify completes, so unlike the HAP accessory link there is no
// TLS layer underneath).
package transport

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/hapgo/atv-go/frame"
)

// Transport is the byte-pipe abstraction a Companion session is built
// on. Implementations need not be framed themselves; Send/Recv operate
// on whole Companion frames, with any stream reassembly handled
// internally.
type Transport interface {
	Send(f frame.Frame) error
	Recv(ctx context.Context) (frame.Frame, error)
	Close() error
}

// TCPTransport is a Transport backed by a single net.Conn, reassembling
// frames from the connection's byte stream with frame.DecodeStream.
type TCPTransport struct {
	conn    net.Conn
	br      *bufio.Reader
	pending []byte        // undecoded residual bytes from the last read
	queued  []frame.Frame // frames decoded in a batch, not yet returned
	logger  *slog.Logger
}

// Dial connects to a Companion-link listener and returns a ready
// Transport. addr is host:port, as returned by discovery.
func Dial(ctx context.Context, addr string, logger *slog.Logger) (*TCPTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	logger.Debug("companion transport connected", "addr", addr)
	return &TCPTransport{
		conn:   conn,
		br:     bufio.NewReader(conn),
		logger: logger,
	}, nil
}

// Send encodes f and writes it to the connection.
func (t *TCPTransport) Send(f frame.Frame) error {
	if _, err := t.conn.Write(frame.Encode(f)); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	return nil
}

// Recv returns the next complete frame, reading more bytes from the
// connection as needed, and respecting ctx's deadline/cancellation.
func (t *TCPTransport) Recv(ctx context.Context) (frame.Frame, error) {
	if len(t.queued) > 0 {
		f := t.queued[0]
		t.queued = t.queued[1:]
		return f, nil
	}

	stop := context.AfterFunc(ctx, func() { _ = t.conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		frames, leftover, err := frame.DecodeStream(t.pending)
		if err != nil {
			return frame.Frame{}, fmt.Errorf("transport: decode stream: %w", err)
		}
		t.pending = leftover
		if len(frames) > 0 {
			t.queued = frames[1:]
			return frames[0], nil
		}

		if deadline, ok := ctx.Deadline(); ok {
			_ = t.conn.SetReadDeadline(deadline)
		} else {
			_ = t.conn.SetReadDeadline(time.Time{})
		}
		if err := ctx.Err(); err != nil {
			return frame.Frame{}, fmt.Errorf("transport: read: %w", err)
		}

		buf := make([]byte, 4096)
		n, err := t.br.Read(buf)
		if err != nil {
			return frame.Frame{}, fmt.Errorf("transport: read: %w", err)
		}
		t.pending = append(t.pending, buf[:n]...)
	}
}

// Close closes the underlying connection.
func (t *TCPTransport) Close() error {
	return t.conn.Close()
}
