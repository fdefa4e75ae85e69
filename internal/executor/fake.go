package executor

import (
	"context"
	"strings"
	"sync"

	"github.com/stackhealer/backend-go/internal/domain"
)

// Fake is an in-memory Executor for tests. Commands are answered by
// OnCommand when set, otherwise they succeed with empty output.
type Fake struct {
	OnCommand func(server *domain.Server, command string) (*CommandResult, error)
	Metrics   map[MetricKind]float64
	// Files maps path to octal permissions
	Files map[string]string
	// Err, when set, is returned by every call as a transport fault
	Err error

	mu       sync.Mutex
	commands []string
}

func (f *Fake) RunCommand(_ context.Context, server *domain.Server, command string) (*CommandResult, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	if f.OnCommand != nil {
		return f.OnCommand(server, command)
	}
	return &CommandResult{Success: true}, nil
}

func (f *Fake) ReadMetric(_ context.Context, _ *domain.Server, kind MetricKind) (*float64, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	v, ok := f.Metrics[kind]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (f *Fake) FileExists(_ context.Context, _ *domain.Server, path string) (bool, error) {
	if f.Err != nil {
		return false, f.Err
	}
	_, ok := f.Files[path]
	return ok, nil
}

func (f *Fake) FilePermissions(_ context.Context, _ *domain.Server, path string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Files[path], nil
}

// Commands returns every command run so far, in order
func (f *Fake) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	copy(out, f.commands)
	return out
}

// Ran reports whether any command containing substr has run
func (f *Fake) Ran(substr string) bool {
	for _, c := range f.Commands() {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}
