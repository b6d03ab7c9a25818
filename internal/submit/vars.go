package submit

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shaiso/rpd-pipelines/internal/runner"
)

// VarsLoader загружает переменные окружения RPD, выполняя команду
// инициализации площадки и разбирая строки "export KEY=VALUE".
//
// Команда выполняется один раз за процесс, результат кэшируется.
type VarsLoader struct {
	runner  runner.Runner
	initCmd string
	devel   bool

	once sync.Once
	vars map[string]string
	err  error
}

// NewVarsLoader создаёт VarsLoader. devel добавляет к команде флаг -d.
func NewVarsLoader(r runner.Runner, initCmd string, devel bool) *VarsLoader {
	return &VarsLoader{
		runner:  r,
		initCmd: initCmd,
		devel:   devel,
	}
}

// Command возвращает команду инициализации.
func (l *VarsLoader) Command() runner.Command {
	cmd := runner.Command{Path: l.initCmd}
	if l.devel {
		cmd.Args = []string{"-d"}
	}
	return cmd
}

// Load возвращает переменные RPD.
func (l *VarsLoader) Load(ctx context.Context) (map[string]string, error) {
	l.once.Do(func() {
		if l.initCmd == "" {
			l.err = ErrNoInitCommand
			return
		}

		res, err := l.runner.Run(ctx, l.Command())
		if err != nil {
			l.err = fmt.Errorf("run init %s: %w", l.Command(), err)
			return
		}
		l.vars = ParseExports(res.Output)
	})

	return l.vars, l.err
}

// ParseExports разбирает вывод init: строки вида export KEY="VALUE";
// Кавычки и точки с запятой удаляются, остальные строки игнорируются.
func ParseExports(out []byte) map[string]string {
	vars := make(map[string]string)

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "export ")
		if !ok {
			continue
		}

		line = strings.Map(func(r rune) rune {
			switch r {
			case '"', '\'', ';':
				return -1
			}
			return r
		}, line)

		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		vars[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	return vars
}
