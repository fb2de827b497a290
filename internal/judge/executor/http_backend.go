package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	appErr "techfolks/pkg/errors"
	"techfolks/pkg/utils/logger"

	"go.uber.org/zap"
)

// HTTPBackendConfig configures the REST execution backend client.
//
// CeilingGraceMs is added on top of each run's time limit to form the
// worker-side wall-clock ceiling. A run that breaches the ceiling is an
// infrastructure fault (the backend should have cut it off first), not a
// time_limit_exceeded verdict.
type HTTPBackendConfig struct {
	BaseURL        string `yaml:"baseUrl"`
	CeilingGraceMs int64  `yaml:"ceilingGraceMs"`
}

func (c *HTTPBackendConfig) ApplyDefaults() {
	if c.CeilingGraceMs <= 0 {
		c.CeilingGraceMs = 10000
	}
}

// HTTPBackend calls a Judge0-style sandbox over HTTP.
type HTTPBackend struct {
	baseURL string
	graceMs int64
	client  *http.Client
}

func NewHTTPBackend(cfg HTTPBackendConfig) *HTTPBackend {
	cfg.ApplyDefaults()
	return &HTTPBackend{
		baseURL: cfg.BaseURL,
		graceMs: cfg.CeilingGraceMs,
		// Per-request deadlines come from the ceiling context; the
		// client itself only bounds connection setup.
		client: &http.Client{Timeout: 0},
	}
}

func (b *HTTPBackend) Execute(ctx context.Context, req Request) (Response, error) {
	ceiling := time.Duration(req.TimeLimitMs+b.graceMs) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, appErr.Wrapf(err, appErr.InternalServerError, "marshal execution request")
	}

	httpReq, err := http.NewRequestWithContext(runCtx, http.MethodPost, b.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return Response{}, appErr.Wrapf(err, appErr.InternalServerError, "build execution request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			logger.Warn(ctx, "execution ceiling reached",
				zap.Int64("time_limit_ms", req.TimeLimitMs),
				zap.Int64("grace_ms", b.graceMs))
			return Response{}, appErr.Wrapf(err, appErr.JudgeCeilingReached,
				"run exceeded ceiling of %dms", req.TimeLimitMs+b.graceMs)
		}
		return Response{}, appErr.Wrapf(err, appErr.BackendUnavailable, "execution backend unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return Response{}, appErr.Wrapf(err, appErr.JudgeCeilingReached,
				"run exceeded ceiling of %dms", req.TimeLimitMs+b.graceMs)
		}
		return Response{}, appErr.Wrapf(err, appErr.BackendUnavailable, "read execution response")
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return Response{}, appErr.Newf(appErr.BackendUnavailable, "execution backend returned %d", resp.StatusCode)
		}
		return Response{}, appErr.Newf(appErr.BackendBadResponse, "execution backend returned %d: %s", resp.StatusCode, string(raw))
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return Response{}, appErr.Wrapf(err, appErr.BackendBadResponse, "decode execution response")
	}
	if out.StatusCode == 0 {
		return Response{}, appErr.New(appErr.BackendBadResponse).WithMessage("execution response missing status code")
	}
	return out, nil
}
