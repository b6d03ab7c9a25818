// Package submit готовит run-директорию pipeline и отправляет её
// в batch-планировщик.
//
// Шаги подготовки:
//  1. conf.yaml — конфиг по умолчанию pipeline (с подставленными
//     переменными RPD) ∪ пользовательские значения ∪ метаданные ELM
//  2. run.sh — скрипт из шаблона площадки
//  3. qsub run.sh из run-директории, stdout дописывается в
//     logs/submission.log
//
// Существующие conf.yaml и run.sh не перезаписываются: повторная запись —
// ошибка ErrPrecondition.
package submit
