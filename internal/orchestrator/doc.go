// Package orchestrator — центральный компонент выполнения jobs.
//
// Оркестратор единственный пишет переходы статусов job и
// недиспетчеризованных stages. Итоги выполнения приходят от worker'ов
// через очередь stages.completed и применяются идемпотентно по ключу
// (stage, attempt): дубли и поздние результаты отбрасываются.
//
// Диспетчеризация идёт группами: stage переходит в READY только когда
// все его зависимости SUCCEEDED. Первый FAILED_PERMANENT валит job
// целиком (fail-fast); отмена не прерывает dispatched-работу, job
// финализируется как CANCELLED после её quiescence.
package orchestrator
