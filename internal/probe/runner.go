package probe

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"

	"codeberg.org/mutker/pulsecore/internal/errors"
)

type execRunner struct {
	path string
	goos string
}

// NewExecRunner returns a Runner that invokes the system ping binary.
func NewExecRunner() Runner {
	return &execRunner{path: "ping", goos: runtime.GOOS}
}

func (r *execRunner) args(count int, target string) []string {
	flag := "-c"
	if r.goos == "windows" {
		flag = "-n"
	}
	return []string{flag, strconv.Itoa(count), target}
}

func (r *execRunner) Run(ctx context.Context, count int, target string) (string, error) {
	errFactory := errors.New()

	cmd := exec.CommandContext(ctx, r.path, r.args(count, target)...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return string(out), nil
	}

	if ctx.Err() != nil {
		return "", errFactory.Wrap(ErrTimeout, ctx.Err())
	}

	// ping exits non-zero when every probe is lost but still reports it
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if len(out) > 0 {
			return string(out), nil
		}
		return "", errFactory.WithData(ErrNoOutput, struct {
			ExitCode int
		}{
			ExitCode: exitErr.ExitCode(),
		})
	}

	return "", errFactory.Wrap(ErrSpawnFailed, err)
}
