// Package cli содержит общие части cobra-команд rpd-pipelines.
//
// # Ключевые компоненты
//
// ## Flags
//
// Общие флаги всех команд: -v/-q (уровень логирования), --config
// (site config), --metrics-textfile, --metrics-addr и --schedule.
//
//	var f cli.Flags
//	f.Bind(rootCmd)
//	logger := f.Logger()
//
// ## Job
//
// Запуск одной итерации job'а или, при заданном --schedule, цикла по
// cron-выражению. После каждой итерации метрики сбрасываются в textfile.
//
// ## Output
//
// Форматирование итогов. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
package cli
