// Package dispatcher собирает команду запуска downstream pipeline
// для одной записи и передаёт её Launcher'у.
//
// Dispatcher не выполняет retry и не откатывает состояние: ошибка запуска
// логируется (команда, код возврата, вывод) и возвращается вызывающему,
// который продолжает обработку следующей записи.
//
// Launcher'ы:
//   - CommandLauncher — запускает wrapper pipeline как подпроцесс
//   - submit.NativeLauncher — готовит run-директорию и сам отправляет
//     задачу в batch-планировщик
package dispatcher
