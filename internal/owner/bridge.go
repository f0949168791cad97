// Package owner connects a local terminal to its broker session.
package owner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackclub/tshare/internal/protocol"
	"github.com/hackclub/tshare/internal/ws"
)

// CloseReason is sent with the normal closure when the local terminal ends.
const CloseReason = "Terminal session ended"

var errTerminalEnded = errors.New("terminal ended")

// Terminal is the shell side of the bridge.
type Terminal interface {
	io.Reader
	io.Writer
	Resize(cols, rows uint16) error
}

type Options struct {
	// Echo mirrors terminal output locally, usually os.Stdout.
	Echo      io.Writer
	Keepalive ws.Keepalive
	Logger    zerolog.Logger
}

type size struct{ cols, rows uint16 }

// Bridge pumps terminal output to the broker and applies broker input and
// resize requests to the terminal.
type Bridge struct {
	conn    *websocket.Conn
	term    Terminal
	echo    io.Writer
	ka      ws.Keepalive
	log     zerolog.Logger
	inputMu sync.Mutex
	sizes   chan size
	closing atomic.Bool
	stopped chan struct{}
	stopOne sync.Once
}

func NewBridge(conn *websocket.Conn, term Terminal, opts Options) *Bridge {
	if opts.Keepalive == (ws.Keepalive{}) {
		opts.Keepalive = ws.DefaultKeepalive()
	}
	return &Bridge{
		conn:    conn,
		term:    term,
		echo:    opts.Echo,
		ka:      opts.Keepalive,
		log:     opts.Logger.With().Str("module", "owner").Logger(),
		sizes:   make(chan size, 1),
		stopped: make(chan struct{}),
	}
}

// ReportSize tells the broker the terminal's current dimensions. Only the
// latest pending size is kept.
func (b *Bridge) ReportSize(cols, rows uint16) {
	for {
		select {
		case b.sizes <- size{cols, rows}:
			return
		default:
		}
		select {
		case <-b.sizes:
		default:
		}
	}
}

// CopyInput writes local keystrokes into the terminal until r fails or the
// bridge stops. Writes are serialized with input arriving from viewers.
func (b *Bridge) CopyInput(r io.Reader) error {
	buf := make([]byte, 1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case <-b.stopped:
				return nil
			default:
			}
			if werr := b.writeInput(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Run relays until the terminal ends, the broker goes away or ctx is
// cancelled. A terminal that ends on its own is a clean exit.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.stop()

	output := make(chan []byte, 64)
	go b.readTerminal(output)

	b.conn.SetReadLimit(b.ka.ReadLimit)
	b.conn.SetReadDeadline(time.Now().Add(b.ka.PongWait))
	b.conn.SetPingHandler(func(data string) error {
		b.conn.SetReadDeadline(time.Now().Add(b.ka.PongWait))
		err := b.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(b.ka.WriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.writeLoop(gctx, output) })
	g.Go(b.readLoop)

	err := g.Wait()
	b.conn.Close()
	if errors.Is(err, errTerminalEnded) {
		return nil
	}
	return err
}

func (b *Bridge) stop() {
	b.stopOne.Do(func() { close(b.stopped) })
}

func (b *Bridge) readTerminal(output chan<- []byte) {
	defer close(output)
	buf := make([]byte, 4096)
	for {
		n, err := b.term.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if b.echo != nil {
				b.echo.Write(chunk)
			}
			select {
			case output <- chunk:
			case <-b.stopped:
				return
			}
		}
		if err != nil {
			b.log.Debug().Err(err).Msg("terminal read ended")
			return
		}
	}
}

// writeLoop is the only writer of data messages on the broker connection.
func (b *Bridge) writeLoop(ctx context.Context, output <-chan []byte) error {
	for {
		select {
		case chunk, ok := <-output:
			if !ok {
				b.shutdown()
				return errTerminalEnded
			}
			if err := b.write(websocket.BinaryMessage, chunk); err != nil {
				b.conn.Close()
				return fmt.Errorf("send output: %w", err)
			}
		case sz := <-b.sizes:
			mt, data := protocol.ResizeFrame(sz.cols, sz.rows).Message()
			if err := b.write(mt, data); err != nil {
				b.conn.Close()
				return fmt.Errorf("send size: %w", err)
			}
		case <-ctx.Done():
			b.shutdown()
			return nil
		}
	}
}

func (b *Bridge) write(mt int, data []byte) error {
	b.conn.SetWriteDeadline(time.Now().Add(b.ka.WriteWait))
	return b.conn.WriteMessage(mt, data)
}

// shutdown starts the close handshake. The read loop exits once the broker
// answers or the deadline passes.
func (b *Bridge) shutdown() {
	b.closing.Store(true)
	b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, CloseReason),
		time.Now().Add(b.ka.WriteWait))
	b.conn.SetReadDeadline(time.Now().Add(b.ka.WriteWait))
}

func (b *Bridge) readLoop() error {
	for {
		mt, data, err := b.conn.ReadMessage()
		if err != nil {
			if b.closing.Load() {
				return nil
			}
			return fmt.Errorf("broker connection: %w", err)
		}
		switch mt {
		case websocket.BinaryMessage:
			if err := b.writeInput(data); err != nil {
				return err
			}
		case websocket.TextMessage:
			cols, rows, ok := protocol.ParseResize(string(data))
			if !ok {
				b.log.Debug().Str("text", string(data)).Msg("ignoring control message")
				continue
			}
			if err := b.term.Resize(cols, rows); err != nil {
				b.log.Warn().Err(err).Msg("resize terminal")
				continue
			}
			b.log.Info().Uint16("cols", cols).Uint16("rows", rows).Msg("terminal resized")
		}
	}
}

func (b *Bridge) writeInput(data []byte) error {
	b.inputMu.Lock()
	defer b.inputMu.Unlock()
	if _, err := b.term.Write(data); err != nil {
		return fmt.Errorf("write terminal: %w", err)
	}
	return nil
}
