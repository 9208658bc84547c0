package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Reelforge/internal/domain"
)

func testInput() *StageInput {
	return &StageInput{
		JobID:   uuid.New(),
		StageID: uuid.New(),
		Attempt: 1,
		Type:    domain.StageTypeScript,
		Spec: domain.JobSpec{
			Platform:    domain.PlatformYouTubeShorts,
			Topic:       "potato history",
			DurationSec: 30,
		},
	}
}

func TestHTTPProvider_Success(t *testing.T) {
	var gotIdempotencyKey string
	var gotInput StageInput

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")
		json.NewDecoder(r.Body).Decode(&gotInput)

		json.NewEncoder(w).Encode(StageOutput{
			Ref:  "blob://script-1",
			Meta: map[string]any{"scenes": 3},
		})
	}))
	defer server.Close()

	p := NewHTTPProvider(domain.StageTypeScript, server.URL)
	input := testInput()

	output, err := p.Submit(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Ref != "blob://script-1" {
		t.Errorf("unexpected output ref: %s", output.Ref)
	}
	if gotInput.Spec.Topic != "potato history" {
		t.Errorf("spec should reach provider, got %+v", gotInput.Spec)
	}
	if gotIdempotencyKey == "" {
		t.Error("idempotency key header should be set")
	}
}

func TestHTTPProvider_PermanentFromBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"kind": "permanent", "message": "invalid voice id"}}`))
	}))
	defer server.Close()

	p := NewHTTPProvider(domain.StageTypeAudio, server.URL)

	_, err := p.Submit(context.Background(), testInput())
	if err == nil {
		t.Fatal("expected error")
	}

	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if perr.Kind != domain.ErrorKindPermanent {
		t.Errorf("expected permanent, got %s", perr.Kind)
	}
	if perr.Message != "invalid voice id" {
		t.Errorf("provider message should be preserved verbatim, got %q", perr.Message)
	}
}

func TestHTTPProvider_TransientFromStatus(t *testing.T) {
	cases := []int{http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway}

	for _, status := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))

		p := NewHTTPProvider(domain.StageTypeVideo, server.URL)
		_, err := p.Submit(context.Background(), testInput())
		server.Close()

		if KindOf(err) != domain.ErrorKindTransient {
			t.Errorf("status %d: expected transient, got %s (%v)", status, KindOf(err), err)
		}
	}
}

func TestHTTPProvider_PermanentFromStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewHTTPProvider(domain.StageTypeImage, server.URL)

	_, err := p.Submit(context.Background(), testInput())
	if KindOf(err) != domain.ErrorKindPermanent {
		t.Errorf("expected permanent for 401, got %s", KindOf(err))
	}
}

func TestHTTPProvider_DeadlineIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewHTTPProvider(domain.StageTypeVideo, server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Submit(ctx, testInput())
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != domain.ErrorKindTransient {
		t.Errorf("deadline should classify as transient, got %s", KindOf(err))
	}
}

func TestHTTPProvider_EmptyRefIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	p := NewHTTPProvider(domain.StageTypeScript, server.URL)

	_, err := p.Submit(context.Background(), testInput())
	if KindOf(err) != domain.ErrorKindPermanent {
		t.Errorf("empty output_ref should be permanent, got %v", err)
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(Permanent("quota exhausted")) != domain.ErrorKindPermanent {
		t.Error("typed permanent error should keep its kind")
	}
	if KindOf(Transient("connection reset")) != domain.ErrorKindTransient {
		t.Error("typed transient error should keep its kind")
	}
	if KindOf(context.DeadlineExceeded) != domain.ErrorKindTransient {
		t.Error("deadline should be transient")
	}
	if KindOf(errors.New("dial tcp: connection refused")) != domain.ErrorKindTransient {
		t.Error("unclassified infra error should default to transient")
	}
}
