package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
)

// Command — описание внешней команды.
type Command struct {
	// Path — исполняемый файл.
	Path string

	// Args — аргументы без имени программы.
	Args []string

	// Dir — рабочая директория (пусто — текущая).
	Dir string

	// Stdout — если задан, stdout пишется сюда, а в Result.Output
	// попадает только stderr. Иначе stdout и stderr захватываются вместе.
	Stdout io.Writer
}

// String возвращает команду в виде строки для логов.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Path)
	parts = append(parts, c.Args...)
	return strings.Join(parts, " ")
}

// Result — результат выполнения команды.
type Result struct {
	Output   []byte
	ExitCode int
}

// Runner — интерфейс запуска внешних команд.
//
// Реализации должны блокироваться до завершения процесса.
// Ненулевой код возврата — *ExitError.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner запускает команды через os/exec.
type ExecRunner struct{}

// NewExecRunner создаёт ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run реализует Runner.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir

	var out bytes.Buffer
	if cmd.Stdout != nil {
		c.Stdout = cmd.Stdout
	} else {
		c.Stdout = &out
	}
	c.Stderr = &out

	err := c.Run()
	if err == nil {
		return &Result{Output: out.Bytes()}, nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	return &Result{Output: out.Bytes(), ExitCode: exitCode}, &ExitError{
		Command:  cmd.String(),
		ExitCode: exitCode,
		Output:   out.Bytes(),
		Err:      err,
	}
}
