// Package starter выбирает из хранилища записи, готовые к downstream
// обработке, и отправляет каждую в dispatch.
//
// Один цикл (Cycle):
//  1. проверка, что процесс запущен production-пользователем
//  2. проверка площадки
//  3. выборка записей без маркера dispatch с ctime внутри окна
//  4. для каждой записи: материализация конфигов, сборка команды,
//     захват записи (условная запись маркера), запуск, обновление маркера
//
// Ошибка одной записи не прерывает обработку остальных. Цикл прерывают
// только нарушения предусловий (ErrPrecondition) и сбои хранилища.
package starter
