package owner

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

const (
	DefaultCols uint16 = 120
	DefaultRows uint16 = 30
)

// PTY runs a shell on a pseudo terminal.
type PTY struct {
	cmd       *exec.Cmd
	f         *os.File
	closeOnce sync.Once
	closeErr  error
}

// UserShell returns $SHELL, falling back to /bin/bash.
func UserShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}

// StartShell launches shell on a new pseudo terminal of the given size.
func StartShell(shell string, cols, rows uint16) (*PTY, error) {
	if shell == "" {
		shell = UserShell()
	}
	if cols == 0 || rows == 0 {
		cols, rows = DefaultCols, DefaultRows
	}
	cmd := exec.Command(shell)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", shell, err)
	}
	return &PTY{cmd: cmd, f: f}, nil
}

func (p *PTY) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *PTY) Write(b []byte) (int, error) { return p.f.Write(b) }

func (p *PTY) Resize(cols, rows uint16) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: cols, Rows: rows})
}

// Close releases the pseudo terminal and reaps the shell, killing it if it
// is still running.
func (p *PTY) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.f.Close()
		if p.cmd.ProcessState == nil {
			p.cmd.Process.Kill()
		}
		p.cmd.Wait()
	})
	return p.closeErr
}
