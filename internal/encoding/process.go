package encoding

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultKillGrace is how long a codec process may take to exit after SIGTERM
// before it is killed.
const DefaultKillGrace = 5 * time.Second

const stderrLimit = 4 * 1024

// newProcess builds a command that runs in its own process group. When ctx is
// done the whole group receives SIGTERM, so helpers spawned by the codec die
// with it; Wait escalates to SIGKILL once grace has passed.
func newProcess(ctx context.Context, grace time.Duration, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	cmd.WaitDelay = grace
	return cmd
}

// exitStatus returns the exit code of a finished command, or -1 when it was
// killed by a signal or never started.
func exitStatus(cmd *exec.Cmd) int {
	if cmd == nil || cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// tailBuffer keeps the last stderrLimit bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > stderrLimit {
		p = p[len(p)-stderrLimit:]
	}
	if over := t.buf.Len() + len(p) - stderrLimit; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(t.buf.String())
}
