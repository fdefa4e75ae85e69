package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/stackhealer/backend-go/internal/domain"
)

// LocalTransport runs commands on the host the engine itself runs on
type LocalTransport struct {
	shell string
}

// NewLocalTransport creates a transport that runs commands through sh -c
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{shell: "sh"}
}

func (t *LocalTransport) Run(ctx context.Context, _ *domain.Server, command string) (*CommandResult, error) {
	start := time.Now()
	cmd := exec.CommandContext(ctx, t.shell, "-c", command)
	output, err := cmd.CombinedOutput()

	exitCode := 0
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &CommandResult{
		Success:  exitCode == 0,
		Output:   string(output),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}
