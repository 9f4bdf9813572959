package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/tools"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func TestHTTPWorkerPostsParamsToToolPath(t *testing.T) {
	var gotBody map[string]any
	worker := NewHTTPWorker("https://workers.example.com/api/", time.Second, nil)
	worker.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", req.Method)
		}
		if req.URL.Path != "/api/tools/diagnostic.analyze_incident" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if ct := req.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("unexpected content type: %s", ct)
		}
		if err := json.NewDecoder(req.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		data, _ := json.Marshal(map[string]any{"root_cause": "disk full", "confidence": 0.9})
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(data)),
			Header:     make(http.Header),
		}, nil
	}))

	result, err := worker.Invoker(tools.DiagnosticAnalyzeIncident).Invoke(context.Background(), map[string]any{"service": "checkout"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody["service"] != "checkout" {
		t.Fatalf("params not forwarded: %+v", gotBody)
	}
	if result["root_cause"] != "disk full" || result["confidence"] != 0.9 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestHTTPWorkerNonOKIsAppError(t *testing.T) {
	worker := NewHTTPWorker("https://workers.example.com", time.Second, nil)
	worker.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Status:     "502 Bad Gateway",
			Body:       io.NopCloser(strings.NewReader("upstream down")),
			Header:     make(http.Header),
		}, nil
	}))

	_, err := worker.Call(context.Background(), tools.DeployRunTests, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	var appErr *utils.AppError
	if !errors.As(err, &appErr) || appErr.Op != "workers.http" {
		t.Fatalf("expected workers.http AppError, got %v", err)
	}
	if !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("expected body snippet in error, got %v", err)
	}
}

func TestHTTPWorkerEmptyResponseBecomesEmptyMap(t *testing.T) {
	worker := NewHTTPWorker("https://workers.example.com", time.Second, nil)
	worker.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("null")),
			Header:     make(http.Header),
		}, nil
	}))

	result, err := worker.Call(context.Background(), tools.MonitorCheckHealth, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || len(result) != 0 {
		t.Fatalf("expected empty map, got %+v", result)
	}
}

func TestHTTPWorkerRequiresBaseURL(t *testing.T) {
	worker := NewHTTPWorker("", time.Second, nil)
	if _, err := worker.Call(context.Background(), tools.MonitorGetMetrics, nil); err == nil {
		t.Fatalf("expected error without base URL")
	}
}

func TestHTTPWorkerBindings(t *testing.T) {
	worker := NewHTTPWorker("https://workers.example.com", time.Second, nil)
	bindings := worker.Bindings(tools.FixerGeneratePatch, tools.FixerValidateFix)
	if len(bindings) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(bindings))
	}
	if _, ok := bindings[tools.FixerValidateFix]; !ok {
		t.Fatalf("missing binding for validate_fix")
	}
}
