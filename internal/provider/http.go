package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Reelforge/internal/domain"
)

const (
	// defaultHTTPTimeout — таймаут клиента, если у попытки нет своего дедлайна.
	defaultHTTPTimeout = 120 * time.Second

	// maxResponseBody — ограничение на размер ответа провайдера.
	maxResponseBody = 1 * 1024 * 1024 // 1 MB
)

// HTTPProvider — клиент внешней generation capability поверх HTTP.
//
// Контракт провайдера:
//
//	POST {base_url}/v1/generate
//	→ 200 {"output_ref": "...", "meta": {...}}
//	→ 4xx/5xx {"error": {"kind": "transient|permanent", "message": "..."}}
//
// Классификация ошибок: kind из тела ответа имеет приоритет; без него
// 408/429/5xx считаются transient, остальные 4xx — permanent.
// Сетевые ошибки и таймауты — transient.
type HTTPProvider struct {
	capability domain.StageType
	baseURL    string
	client     *http.Client
}

// NewHTTPProvider создаёт клиент capability по базовому URL.
func NewHTTPProvider(capability domain.StageType, baseURL string) *HTTPProvider {
	return &HTTPProvider{
		capability: capability,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// errorBody — тело ответа провайдера с ошибкой.
type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit выполняет одну попытку генерации.
func (p *HTTPProvider) Submit(ctx context.Context, input *StageInput) (*StageOutput, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, Permanent("marshal stage input: %v", err)
	}

	url := p.baseURL + "/v1/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", fmt.Sprintf("%s:%s:%d", input.JobID, input.StageID, input.Attempt))

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Transient("%s: %v", p.capability, ctx.Err())
		}
		return nil, Transient("%s request failed: %v", p.capability, err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, Transient("read %s response: %v", p.capability, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.classifyError(resp.StatusCode, respBytes)
	}

	var output StageOutput
	if err := json.Unmarshal(respBytes, &output); err != nil {
		return nil, Transient("decode %s response: %v", p.capability, err)
	}
	if output.Ref == "" {
		return nil, Permanent("%s returned empty output_ref", p.capability)
	}

	return &output, nil
}

// classifyError строит *Error из не-200 ответа.
func (p *HTTPProvider) classifyError(status int, body []byte) *Error {
	message := fmt.Sprintf("%s returned HTTP %d", p.capability, status)
	kind := kindForStatus(status)

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
		// Kind из тела ответа имеет приоритет над статусом
		switch domain.ErrorKind(parsed.Error.Kind) {
		case domain.ErrorKindTransient:
			kind = domain.ErrorKindTransient
		case domain.ErrorKindPermanent:
			kind = domain.ErrorKindPermanent
		}
	}

	return &Error{Kind: kind, Message: message}
}

// kindForStatus классифицирует HTTP-статус без типизированного тела.
func kindForStatus(status int) domain.ErrorKind {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return domain.ErrorKindTransient
	case status >= 500:
		return domain.ErrorKindTransient
	default:
		return domain.ErrorKindPermanent
	}
}
