// Package provider — единый контракт внешних generation capabilities.
//
// Каждая capability (script, image, audio, video) доступна через
// Provider.Submit: success(output) | error(kind, message), где kind —
// transient (сеть, таймаут, rate-limit; retry уместен) или permanent
// (невалидный вход, авторизация, квота; retry бессмыслен).
//
// Производственная реализация — HTTPProvider; stitch реализован локально
// в пакете assembler и регистрируется в worker'е как обычный Provider.
package provider
