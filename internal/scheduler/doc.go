// Package scheduler периодически запускает job'ы (starter, stage-out scanner)
// по cron-выражению.
//
// Структура:
//   - scheduler.go — цикл Run поверх robfig/cron и защита от наложения запусков
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Name:   "downstream-starter",
//	    Spec:   "*/15 * * * *",
//	    Job:    func(ctx context.Context) error { _, err := st.Cycle(ctx); return err },
//	    Locker: repo.NewAdvisoryLock(pool, repo.LockKey("downstream-starter")),
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	return sched.Run(ctx)
//
// Наложение запусков:
//
// Внутри процесса следующий тик пропускается, пока идёт предыдущий
// (cron.SkipIfStillRunning). Между процессами на разных хостах тик
// выполняет только тот, кто взял Locker (pg_try_advisory_lock).
package scheduler
