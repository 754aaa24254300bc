package launch

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// tailLimit bounds how much of each stream is retained for reporting.
const tailLimit = 4096

// Process is the slice of a running editor the poll loop needs.
type Process interface {
	Pid() int
	Done() <-chan struct{}
	Signal(sig syscall.Signal) error
	Kill() error
	Tails() (stdout, stderr string)
}

// osProcess wraps an exec.Cmd with bounded output capture.
type osProcess struct {
	cmd    *exec.Cmd
	done   chan struct{}
	stdout *tailBuffer
	stderr *tailBuffer
}

// startEditor is the production StartFunc.
func startEditor(ctx context.Context, bin string, args []string) (Process, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	p := &osProcess{
		cmd:    cmd,
		done:   make(chan struct{}),
		stdout: &tailBuffer{},
		stderr: &tailBuffer{},
	}
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *osProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *osProcess) Done() <-chan struct{} { return p.done }

func (p *osProcess) Signal(sig syscall.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *osProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *osProcess) Tails() (string, string) {
	return p.stdout.String(), p.stderr.String()
}

// terminate shuts a process down: SIGTERM first, forced kill after a
// grace period if it does not exit.
func terminate(p Process) {
	select {
	case <-p.Done():
		return
	default:
	}

	_ = p.Signal(syscall.SIGTERM)
	select {
	case <-p.Done():
		return
	case <-time.After(terminateGrace):
	}

	_ = p.Kill()
	<-p.Done()
}

// tailBuffer retains the last tailLimit bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > tailLimit {
		t.buf = t.buf[len(t.buf)-tailLimit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
