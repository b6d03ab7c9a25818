// Package runner запускает внешние команды.
//
// Все взаимодействия с внешним миром, кроме БД и RabbitMQ, идут через
// Runner: вызов pipeline wrapper'а, команда инициализации площадки,
// qsub и stage-out worker. В тестах Runner подменяется фейком.
//
// Ненулевой код возврата превращается в *ExitError, который содержит
// команду, код и захваченный вывод — именно эти три поля логируются
// при ошибке dispatch или staging.
package runner
