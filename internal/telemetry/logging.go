package telemetry

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelCritical — уровень для фатальных ошибок процесса.
const LevelCritical = slog.LevelError + 4

// LevelOff — уровень, при котором логирование отключено (-qqq).
const LevelOff = slog.LevelError + 8

// LogOptions — параметры логгера, приходящие из CLI.
type LogOptions struct {
	// Verbose — число флагов -v.
	Verbose int

	// Quiet — число флагов -q.
	Quiet int
}

// LogLevel определяет уровень логирования.
//
// Если задана переменная LOG_LEVEL (DEBUG, INFO, WARN, ERROR), используется она.
// Иначе базовый уровень WARN сдвигается на один шаг за каждый -v/-q:
//
//	-vv → DEBUG, -v → INFO, (нет) → WARN, -q → ERROR, -qq → CRITICAL, -qqq → выкл.
func LogLevel(opts LogOptions) slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}

	level := slog.LevelWarn + slog.Level(4*(opts.Quiet-opts.Verbose))
	if level < slog.LevelDebug {
		level = slog.LevelDebug
	}
	if level > LevelOff {
		level = LevelOff
	}
	return level
}

// SetupLogger инициализирует глобальный логгер.
//
// Формат вывода определяется переменной LOG_FORMAT:
//   - "json" (по умолчанию) — JSON формат для production
//   - "text" — человекочитаемый формат для разработки
//
// Если задан LOG_FILE, вывод пишется в файл с ротацией (lumberjack).
func SetupLogger(opts LogOptions) *slog.Logger {
	level := LogLevel(opts)
	logger := slog.New(newHandler(logWriter(), level))
	slog.SetDefault(logger)
	return logger
}

func newHandler(w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if os.Getenv("LOG_FORMAT") == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func logWriter() io.Writer {
	path := os.Getenv("LOG_FILE")
	if path == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 10,
		MaxAge:     30, // дней
		LocalTime:  true,
	}
}

// WithRecordID возвращает логгер с добавленным record_id.
func WithRecordID(logger *slog.Logger, recordID string) *slog.Logger {
	return logger.With("record_id", recordID)
}

// WithOutDir возвращает логгер с добавленной выходной директорией.
func WithOutDir(logger *slog.Logger, outdir string) *slog.Logger {
	return logger.With("outdir", outdir)
}
