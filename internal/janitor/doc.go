// Package janitor — периодическая уборка: возврат зависших stages
// в диспетчеризацию и удаление терминальных jobs по сроку хранения.
// Работает внутри процесса оркестратора по cron-расписанию.
package janitor
