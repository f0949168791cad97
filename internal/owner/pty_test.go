package owner

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestPTYRunsShell(t *testing.T) {
	p, err := StartShell("/bin/sh", 80, 24)
	if err != nil {
		t.Skipf("no pty available: %v", err)
	}
	defer p.Close()

	if err := p.Resize(100, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if _, err := p.Write([]byte("echo tshare-$((40+2))\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := make(chan string, 1)
	go func() {
		var buf bytes.Buffer
		chunk := make([]byte, 1024)
		for {
			n, err := p.Read(chunk)
			buf.Write(chunk[:n])
			if strings.Contains(buf.String(), "tshare-42") || err != nil {
				out <- buf.String()
				return
			}
		}
	}()

	select {
	case got := <-out:
		if !strings.Contains(got, "tshare-42") {
			t.Errorf("shell output = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no output from shell")
	}
}

func TestUserShellFallback(t *testing.T) {
	t.Setenv("SHELL", "")
	if got := UserShell(); got != "/bin/bash" {
		t.Errorf("UserShell() = %q, want /bin/bash", got)
	}
	t.Setenv("SHELL", "/bin/zsh")
	if got := UserShell(); got != "/bin/zsh" {
		t.Errorf("UserShell() = %q, want /bin/zsh", got)
	}
}
