package runner

import (
	"context"
	"sync"
)

// Fake — Runner для тестов. Запоминает вызовы и отвечает через Handler.
type Fake struct {
	// Handler возвращает результат для команды. Nil — всегда успех.
	Handler func(cmd Command) (*Result, error)

	mu    sync.Mutex
	calls []Command
}

// Run реализует Runner.
func (f *Fake) Run(_ context.Context, cmd Command) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	if f.Handler == nil {
		return &Result{}, nil
	}
	return f.Handler(cmd)
}

// Calls возвращает копию списка выполненных команд.
func (f *Fake) Calls() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()

	calls := make([]Command, len(f.calls))
	copy(calls, f.calls)
	return calls
}

// Fail строит результат ненулевого завершения команды.
func Fail(cmd Command, exitCode int, output string) (*Result, error) {
	return &Result{Output: []byte(output), ExitCode: exitCode}, &ExitError{
		Command:  cmd.String(),
		ExitCode: exitCode,
		Output:   []byte(output),
		Err:      ErrCommandFailed,
	}
}
