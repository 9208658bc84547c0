package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
)

// StageInput — вход одной попытки вызова провайдера.
//
// Тройка (JobID, StageID, Attempt) — ключ идемпотентности попытки:
// провайдер обязан вернуть тот же результат на повторный submit
// с тем же ключом.
type StageInput struct {
	// JobID — идентификатор job.
	JobID uuid.UUID `json:"job_id"`

	// StageID — идентификатор stage.
	StageID uuid.UUID `json:"stage_id"`

	// Attempt — номер попытки.
	Attempt int `json:"attempt"`

	// Type — тип stage (capability).
	Type domain.StageType `json:"type"`

	// Spec — неизменяемый spec job'а.
	Spec domain.JobSpec `json:"spec"`

	// Inputs — артефакты зависимостей (тип stage-производителя → ref).
	Inputs map[string]string `json:"inputs,omitempty"`
}

// StageOutput — результат успешного вызова провайдера.
type StageOutput struct {
	// Ref — opaque-ссылка на произведённый артефакт.
	Ref string `json:"output_ref"`

	// Meta — метаданные артефакта (длительность, количество сцен и т.п.).
	Meta map[string]any `json:"meta,omitempty"`
}

// Provider — единый контракт внешней generation capability.
//
// submit(input) → success(output) | error(kind, message).
// Вызывается только Stage Executor'ом (пакет worker).
type Provider interface {
	Submit(ctx context.Context, input *StageInput) (*StageOutput, error)
}

// Error — классифицированная ошибка провайдера.
type Error struct {
	// Kind — transient или permanent.
	Kind domain.ErrorKind

	// Message — текст ошибки провайдера, сохраняется дословно.
	Message string
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s provider error: %s", e.Kind, e.Message)
}

// Transient создаёт transient-ошибку.
func Transient(format string, args ...any) *Error {
	return &Error{Kind: domain.ErrorKindTransient, Message: fmt.Sprintf(format, args...)}
}

// Permanent создаёт permanent-ошибку.
func Permanent(format string, args ...any) *Error {
	return &Error{Kind: domain.ErrorKindPermanent, Message: fmt.Sprintf(format, args...)}
}

// KindOf классифицирует произвольную ошибку вызова провайдера.
//
// Типизированные *Error сохраняют свой kind. Таймауты и отмены контекста,
// как и любые неклассифицированные инфраструктурные ошибки (сеть, DNS),
// считаются transient — retry решит.
func KindOf(err error) domain.ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.ErrorKindTransient
	}

	return domain.ErrorKindTransient
}
