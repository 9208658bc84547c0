// Package status — агрегация состояния job из состояний его stages.
//
// Статус job — чистая функция статусов stages и флага отмены:
// пакет не хранит собственного состояния и используется и оркестратором
// (при фиксации переходов), и API (при обслуживании polling-запросов),
// гарантируя им одинаковый ответ на одинаковых данных.
package status
