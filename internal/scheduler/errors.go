package scheduler

import "errors"

var (
	// ErrInvalidSpec — cron-выражение не разбирается.
	ErrInvalidSpec = errors.New("invalid cron expression")

	// ErrNoJob — не задана функция job.
	ErrNoJob = errors.New("no job configured")
)
