package owner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/hackclub/tshare/internal/auth"
	"github.com/hackclub/tshare/internal/client"
	"github.com/hackclub/tshare/internal/protocol"
	"github.com/hackclub/tshare/internal/session"
	"github.com/hackclub/tshare/internal/ws"
)

type fakeTerminal struct {
	out     *io.PipeReader
	outW    *io.PipeWriter
	input   chan []byte
	resizes chan [2]uint16
}

func newFakeTerminal() *fakeTerminal {
	r, w := io.Pipe()
	return &fakeTerminal{
		out:     r,
		outW:    w,
		input:   make(chan []byte, 16),
		resizes: make(chan [2]uint16, 16),
	}
}

func (f *fakeTerminal) Read(p []byte) (int, error) { return f.out.Read(p) }

func (f *fakeTerminal) Write(p []byte) (int, error) {
	f.input <- append([]byte(nil), p...)
	return len(p), nil
}

func (f *fakeTerminal) Resize(cols, rows uint16) error {
	f.resizes <- [2]uint16{cols, rows}
	return nil
}

type testBroker struct {
	store *session.Store
	bc    *client.Client
}

func newTestBroker(t *testing.T) *testBroker {
	t.Helper()
	store := session.NewStore(auth.NewBcryptHasher(bcrypt.MinCost), session.Options{})
	srv := httptest.NewServer(ws.NewServer(store, ws.Options{Logger: zerolog.Nop()}).Handler())
	t.Cleanup(srv.Close)
	return &testBroker{store: store, bc: client.New(srv.URL, "")}
}

// start creates a session, attaches a bridge over a fake terminal and runs
// it in the background.
func (tb *testBroker) start(t *testing.T, ctx context.Context, echo io.Writer) (*session.Session, *fakeTerminal, *Bridge, <-chan error) {
	t.Helper()
	sess, err := tb.store.Create(session.CreateParams{})
	if err != nil {
		t.Fatal(err)
	}
	conn, err := tb.bc.DialOwner(ctx, sess.ID())
	if err != nil {
		t.Fatalf("DialOwner: %v", err)
	}
	term := newFakeTerminal()
	t.Cleanup(func() { term.outW.Close() })

	b := NewBridge(conn, term, Options{Echo: echo, Logger: zerolog.Nop()})
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	waitFor(t, "owner attach", sess.OwnerAttached)
	return sess, term, b, done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("bridge did not stop")
		return nil
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return mt, data
}

func TestBridgeRelay(t *testing.T) {
	tb := newTestBroker(t)
	var echo bytes.Buffer
	sess, term, _, done := tb.start(t, context.Background(), &echo)

	term.outW.Write([]byte("$ "))
	waitFor(t, "history", func() bool { return sess.HistoryLen() == 2 })

	viewer, err := tb.bc.DialViewer(context.Background(), sess.ID(), auth.ClassOwner)
	if err != nil {
		t.Fatalf("DialViewer: %v", err)
	}
	defer viewer.Close()
	if _, data := readMessage(t, viewer); string(data) != "$ " {
		t.Fatalf("viewer got %q, want history", data)
	}

	viewer.WriteMessage(websocket.BinaryMessage, []byte("ls\n"))
	select {
	case in := <-term.input:
		if string(in) != "ls\n" {
			t.Errorf("terminal input = %q", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("input never reached the terminal")
	}

	viewer.WriteMessage(websocket.TextMessage, []byte(`{"type":"resize","cols":100,"rows":40}`))
	select {
	case sz := <-term.resizes:
		if sz != [2]uint16{100, 40} {
			t.Errorf("resize = %v", sz)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("resize never reached the terminal")
	}
	select {
	case in := <-term.input:
		t.Errorf("resize leaked into input: %q", in)
	default:
	}

	term.outW.Close()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run = %v, want nil after terminal exit", err)
	}

	if mt, data := readMessage(t, viewer); mt != websocket.BinaryMessage || string(data) != protocol.SessionEndedMarker {
		t.Fatalf("viewer got (%d, %q), want end marker", mt, data)
	}
	if !sess.Ended() {
		t.Error("session not ended after terminal exit")
	}
	if echo.String() != "$ " {
		t.Errorf("echo = %q", echo.String())
	}
}

func TestBridgeBinaryResizeIsInput(t *testing.T) {
	tb := newTestBroker(t)
	sess, term, _, _ := tb.start(t, context.Background(), nil)

	viewer, err := tb.bc.DialViewer(context.Background(), sess.ID(), auth.ClassOwner)
	if err != nil {
		t.Fatal(err)
	}
	defer viewer.Close()

	viewer.WriteMessage(websocket.BinaryMessage, []byte("RESIZE:1:2"))
	select {
	case in := <-term.input:
		if string(in) != "RESIZE:1:2" {
			t.Errorf("terminal input = %q", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("binary message never reached the terminal")
	}
	if len(term.resizes) != 0 {
		t.Error("binary payload treated as resize")
	}
}

func TestBridgeReportSize(t *testing.T) {
	tb := newTestBroker(t)
	sess, _, b, _ := tb.start(t, context.Background(), nil)

	b.ReportSize(80, 24)
	b.ReportSize(132, 43)
	waitFor(t, "terminal size", func() bool {
		cols, rows := sess.TerminalSize()
		return cols == 132 && rows == 43
	})
	if sess.HistoryLen() != 0 {
		t.Error("size report landed in history")
	}
}

func TestBridgeContextCancel(t *testing.T) {
	tb := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	sess, _, _, done := tb.start(t, ctx, nil)

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run = %v, want nil on cancel", err)
	}
	waitFor(t, "session end", sess.Ended)
}

func TestCopyInput(t *testing.T) {
	term := newFakeTerminal()
	b := NewBridge(nil, term, Options{Logger: zerolog.Nop()})

	if err := b.CopyInput(strings.NewReader("echo hi\n")); err != nil {
		t.Fatalf("CopyInput: %v", err)
	}
	if in := <-term.input; string(in) != "echo hi\n" {
		t.Errorf("terminal input = %q", in)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestCopyInputError(t *testing.T) {
	b := NewBridge(nil, newFakeTerminal(), Options{Logger: zerolog.Nop()})
	if err := b.CopyInput(failingReader{}); err == nil {
		t.Fatal("expected read error")
	}
}
