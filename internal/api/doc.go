// Package api — HTTP API сервиса Reelforge.
//
// Endpoints:
//   - POST /api/v1/jobs — submission (валидация spec, создание графа stages)
//   - GET  /api/v1/jobs — список jobs с фильтрацией
//   - GET  /api/v1/jobs/{id} — агрегированное состояние для polling
//   - POST /api/v1/jobs/{id}/cancel — запрос кооперативной отмены
//   - GET  /api/v1/jobs/{id}/artifact — ссылка на финальный артефакт
//
// API не выполняет переходов статусов job (кроме флага отмены):
// всю оркестрацию делает Orchestrator.
package api
