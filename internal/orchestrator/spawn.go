package orchestrator

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/carton-run/carton/internal/cartonerr"
	"github.com/carton-run/carton/internal/ipc"
)

// gracefulStopTimeout is how long a spawned runner gets to exit after
// SIGTERM before Stop escalates to SIGKILL, mirroring the teacher's
// llamaSubprocessAdapter.Stop.
const gracefulStopTimeout = 2 * time.Second

// pipeConn adapts a subprocess's stdin/stdout pipes into the single
// io.ReadWriteCloser internal/ipc.Channel expects. This is the
// non-Unix-socket transport spec.md §4.7 allows ("elsewhere, memory
// handles are exchanged by platform-specific mechanism or degraded to
// copying") — shared-memory fd passing is unavailable over a plain pipe,
// so RunnerProcess always negotiates a copying fallback for tensor
// transfer on this transport (see internal/ipc.ToWire's useSharedMemory
// flag).
type pipeConn struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (p *pipeConn) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeConn) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeConn) Close() error {
	werr := p.w.Close()
	rerr := p.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// RunnerProcess is a spawned runner subprocess plus its negotiated IPC
// channel.
type RunnerProcess struct {
	cmd     *exec.Cmd
	Channel *ipc.Channel
	Major   uint32

	stderrTail *tailBuffer
}

// Spawn starts binaryPath with args, wires stdio pipes into an IPC
// channel, and performs the version handshake before returning
// (spec.md §4.9 Spawning -> Handshaking).
func Spawn(ctx context.Context, log zerolog.Logger, binaryPath string, args []string) (*RunnerProcess, error) {
	cmd := exec.CommandContext(ctx, binaryPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindRunnerSpawnFailed, "opening runner stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindRunnerSpawnFailed, "opening runner stdout", err)
	}
	tail := newTailBuffer(4096)
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, cartonerr.Wrap(cartonerr.KindRunnerSpawnFailed, "starting runner process", err)
	}
	log.Info().Str("binary", binaryPath).Int("pid", cmd.Process.Pid).Msg("spawned runner")

	conn := &pipeConn{r: stdout, w: stdin}
	channel := ipc.NewChannel(conn, log)

	major, err := ipc.Handshake(ctx, channel, ipc.SupportedMajorVersions)
	if err != nil {
		_ = channel.Close()
		_ = cmd.Process.Kill()
		return nil, err
	}

	return &RunnerProcess{cmd: cmd, Channel: channel, Major: major, stderrTail: tail}, nil
}

// PID returns the runner subprocess's process id, for status reporting.
func (p *RunnerProcess) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Stop sends SIGTERM, waits up to gracefulStopTimeout, then escalates to
// SIGKILL, exactly like the teacher's llamaSubprocessAdapter.Stop.
func (p *RunnerProcess) Stop() error {
	_ = p.Channel.Close()
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_, _ = p.cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gracefulStopTimeout):
		_ = p.cmd.Process.Kill()
		_, _ = p.cmd.Process.Wait()
	}
	return nil
}

// Wait blocks until the process exits and reports it as a Crashed
// cartonerr.Error with the tail of its stderr output attached.
func (p *RunnerProcess) Wait() error {
	err := p.cmd.Wait()
	exitStatus := 0
	if p.cmd.ProcessState != nil {
		exitStatus = p.cmd.ProcessState.ExitCode()
	}
	if err == nil && exitStatus == 0 {
		return nil
	}
	return cartonerr.Crashed(exitStatus, p.stderrTail.String())
}

// tailBuffer keeps only the last n bytes written to it, used to attach a
// bounded stderr excerpt to a crash report (spec.md §7 "the tail of the
// runner's last log output").
type tailBuffer struct {
	mu   sync.Mutex
	max  int
	data []byte
}

func newTailBuffer(max int) *tailBuffer { return &tailBuffer{max: max} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = append(t.data, p...)
	if len(t.data) > t.max {
		t.data = t.data[len(t.data)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.data)
}
