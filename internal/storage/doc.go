// Package storage — хранилище артефактов по opaque-ссылкам.
//
// Контракт минимальный: store(bytes) → ref и fetch(ref) → bytes.
// Производственная реализация — файловая (FSStore), для тестов — MemStore.
package storage
