package tester

import (
	"bytes"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"
)

const outputTail = 2048

// engineProcess owns one running proxy-engine child. Stop must be called
// on every path once start succeeded.
type engineProcess struct {
	cmd  *exec.Cmd
	out  bytes.Buffer
	done chan struct{}
	err  error
	once sync.Once
}

func startEngine(bin string, args, env []string, waitDelay time.Duration) (*engineProcess, error) {
	cmd := exec.Command(bin, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	// Bounds Wait when a grandchild keeps the output pipes open.
	cmd.WaitDelay = waitDelay

	p := &engineProcess{cmd: cmd, done: make(chan struct{})}
	cmd.Stdout = &p.out
	cmd.Stderr = &p.out

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Done is closed once the process has exited and its output is drained.
func (p *engineProcess) Done() <-chan struct{} { return p.done }

func (p *engineProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stop sends SIGTERM, waits up to grace, then kills the engine.
func (p *engineProcess) Stop(grace time.Duration) {
	p.once.Do(func() {
		if p.Exited() {
			return
		}
		if runtime.GOOS == "windows" {
			_ = p.cmd.Process.Kill()
		} else {
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
		}

		select {
		case <-p.done:
		case <-time.After(grace):
			_ = p.cmd.Process.Kill()
			<-p.done
		}
	})
}

// Output returns the tail of the combined stdout/stderr. It is empty until
// the process has exited.
func (p *engineProcess) Output() string {
	if !p.Exited() {
		return ""
	}
	b := bytes.TrimSpace(p.out.Bytes())
	if len(b) > outputTail {
		b = b[len(b)-outputTail:]
	}
	return string(b)
}
