package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/tools"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// HTTPWorker reaches remote worker capabilities over JSON/HTTP. Each tool is
// served at POST <base>/tools/<tool name>; the body is the params object and
// the response body is the result object.
type HTTPWorker struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPWorker constructs a client targeting baseURL.
func NewHTTPWorker(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPWorker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Invoker returns the invoker for one tool.
func (w *HTTPWorker) Invoker(id tools.ID) tools.Invoker {
	return tools.InvokerFunc(func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return w.Call(ctx, id, params)
	})
}

// Bindings returns invokers for every id, ready for Dispatcher.BindAll.
func (w *HTTPWorker) Bindings(ids ...tools.ID) map[tools.ID]tools.Invoker {
	out := make(map[tools.ID]tools.Invoker, len(ids))
	for _, id := range ids {
		out[id] = w.Invoker(id)
	}
	return out
}

// Call posts params to the tool endpoint and decodes the result object.
func (w *HTTPWorker) Call(ctx context.Context, id tools.ID, params map[string]any) (map[string]any, error) {
	if w == nil || w.baseURL == "" {
		return nil, utils.NewAppError("workers.http", "worker base URL not configured", nil)
	}
	endpoint := w.resolvePath("/tools/" + string(id))

	var result map[string]any
	start := time.Now()
	if err := w.postJSON(ctx, endpoint, params, &result); err != nil {
		w.logger.Warn("worker call failed",
			slog.String("tool", string(id)),
			slog.String("endpoint", endpoint),
			slog.Any("error", err))
		return nil, utils.NewAppError("workers.http", fmt.Sprintf("%s request failed", id), err)
	}
	w.logger.Debug("worker call completed",
		slog.String("tool", string(id)),
		slog.Int64("elapsed_ms", utils.ElapsedMs(start)))
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

func (w *HTTPWorker) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(w.baseURL)
	if err != nil {
		return w.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (w *HTTPWorker) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("worker returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
