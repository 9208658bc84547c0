// Package repo — durable Job & Stage Store поверх PostgreSQL (pgx).
//
// Две таблицы: jobs и stages. Граф stages создаётся одной транзакцией
// вместе с job (CreateWithStages) и после этого только мутируется.
// Сериализация записей по одному job обеспечивается Orchestrator'ом
// (single-writer-per-job), репозиторий координации не добавляет.
package repo
