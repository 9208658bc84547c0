// Package worker — stateless-исполнитель stages (Stage Executor).
//
// Worker получает диспетчеризованные stages из очереди stages.ready
// (с polling-fallback по БД), вызывает соответствующий generation
// provider и публикует финальный итог попыток в stages.completed.
//
// Retry-семантика: transient-ошибки ретраятся внутри executor'а
// с exponential backoff по политике типа stage — оркестратор видит
// только финальный исход (SUCCEEDED или FAILED_PERMANENT).
// Permanent-ошибка обрывает попытки немедленно. Каждая попытка
// ограничена wall-clock дедлайном; его превышение — transient-ошибка.
package worker
