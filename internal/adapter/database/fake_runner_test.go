package database

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []Command
	stdin   []string
	handler func(Command) (Result, error)
}

func (f *fakeRunner) Run(_ context.Context, cmd Command) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	if cmd.Stdin != nil {
		data, _ := io.ReadAll(cmd.Stdin)
		f.stdin = append(f.stdin, string(data))
	}
	f.mu.Unlock()

	if f.handler == nil {
		return Result{}, nil
	}
	return f.handler(cmd)
}

func (f *fakeRunner) last() Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeRunner) named(name string) []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Command
	for _, c := range f.calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func argValue(cmd Command, prefix string) string {
	for _, a := range cmd.Args {
		if strings.HasPrefix(a, prefix) {
			return strings.TrimPrefix(a, prefix)
		}
	}
	return ""
}

type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
