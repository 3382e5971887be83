package entity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quazardous/qdadm/model"
)

// BreakerConfig tunes the per-service circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// RetryConfig tunes retry behavior for backend calls.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	// IdempotentOnly restricts retries to idempotent HTTP methods.
	IdempotentOnly bool `yaml:"idempotent_only"`
}

// RestConfig configures a RestManager's backend service.
type RestConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Breaker BreakerConfig `yaml:"circuit_breaker"`
	Retry   RetryConfig   `yaml:"retry"`
}

// RestManager talks to a JSON-over-HTTP backend service. One instance
// serves one entity collection; the circuit breaker and retry policy are
// per instance.
type RestManager struct {
	base
	cfg      RestConfig
	basePath string
	client   *http.Client
	breaker  *breaker
	logger   *zap.Logger
}

// NewRestManager creates a manager for the entity's REST backend binding.
func NewRestManager(def model.EntityDefinition, fields []model.FieldSpec, authz Authorizer, cfg RestConfig, logger *zap.Logger) *RestManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	basePath := def.Backend.BasePath
	if basePath == "" {
		basePath = def.RoutePrefix
	}
	basePath = strings.Trim(basePath, "/")

	return &RestManager{
		base:     newBase(def, fields, authz),
		cfg:      cfg,
		basePath: basePath,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker: newBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.SuccessThreshold, cfg.Breaker.Cooldown),
		logger:  logger.With(zap.String("entity", def.Entity)),
	}
}

func (m *RestManager) List(ctx context.Context, q model.ListQuery) (model.ListResult, error) {
	query := map[string]string{}
	if q.Page > 0 {
		query["page"] = strconv.Itoa(q.Page)
	}
	if q.PageSize > 0 {
		query["page_size"] = strconv.Itoa(q.PageSize)
	}
	if q.SortBy != "" {
		query["sort_by"] = q.SortBy
		if q.SortOrder != "" {
			query["sort_order"] = q.SortOrder
		}
	}
	if q.Search != "" {
		query["q"] = q.Search
		if len(q.SearchFields) > 0 {
			query["search_fields"] = strings.Join(q.SearchFields, ",")
		}
	}
	for name, v := range q.Filters {
		if v == nil {
			continue
		}
		query[name] = fmt.Sprintf("%v", v)
	}

	body, err := m.call(ctx, http.MethodGet, m.basePath, query, nil, nil)
	if err != nil {
		return model.ListResult{}, err
	}
	return parseListBody(body), nil
}

func (m *RestManager) Get(ctx context.Context, id string) (model.Record, error) {
	body, err := m.call(ctx, http.MethodGet, m.itemPath(id), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return parseRecordBody(body), nil
}

func (m *RestManager) Create(ctx context.Context, rec model.Record) (model.Record, error) {
	body, err := m.call(ctx, http.MethodPost, m.basePath, nil, nil, rec)
	if err != nil {
		return nil, err
	}
	return parseRecordBody(body), nil
}

func (m *RestManager) Update(ctx context.Context, id string, rec model.Record) (model.Record, error) {
	body, err := m.call(ctx, http.MethodPut, m.itemPath(id), nil, nil, rec)
	if err != nil {
		return nil, err
	}
	return parseRecordBody(body), nil
}

func (m *RestManager) Patch(ctx context.Context, id string, rec model.Record) (model.Record, error) {
	body, err := m.call(ctx, http.MethodPatch, m.itemPath(id), nil, nil, rec)
	if err != nil {
		return nil, err
	}
	return parseRecordBody(body), nil
}

func (m *RestManager) Delete(ctx context.Context, id string) error {
	_, err := m.call(ctx, http.MethodDelete, m.itemPath(id), nil, nil, nil)
	return err
}

// Request exposes arbitrary entity-scoped endpoints, e.g. the
// "distinct/<field>" endpoint behind filter option resolution.
func (m *RestManager) Request(ctx context.Context, method, path string, opts model.RequestOptions) (any, error) {
	full := m.basePath + "/" + strings.Trim(path, "/")
	return m.call(ctx, method, full, opts.Query, opts.Headers, opts.Body)
}

// BreakerState exposes the circuit state for health reporting.
func (m *RestManager) BreakerState() string {
	return m.breaker.State().String()
}

func (m *RestManager) itemPath(id string) string {
	return m.basePath + "/" + url.PathEscape(id)
}

// call runs one logical backend call with retry and backoff.
func (m *RestManager) call(ctx context.Context, method, path string, query, headers map[string]string, body any) (any, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	maxAttempts := m.cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	canRetry := isIdempotentMethod(method) || !m.cfg.Retry.IdempotentOnly

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffDelay(m.cfg.Retry, attempt)):
			}
		}

		result, retryable, err := m.callOnce(ctx, method, path, query, headers, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !canRetry || !retryable {
			return nil, err
		}
		m.logger.Debug("retrying backend call",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

// callOnce performs a single HTTP exchange behind the circuit breaker. The
// second return reports whether the failure is worth retrying.
func (m *RestManager) callOnce(ctx context.Context, method, path string, query, headers map[string]string, payload []byte) (any, bool, error) {
	if err := m.breaker.Allow(); err != nil {
		return nil, false, model.NewBackendUnavailableError()
	}

	reqURL := strings.TrimRight(m.cfg.BaseURL, "/") + "/" + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		reqURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header = m.requestHeaders(ctx, method, headers)

	resp, err := m.client.Do(req)
	if err != nil {
		m.breaker.RecordFailure()
		if isConnectionError(err) {
			return nil, true, model.NewBackendUnavailableError()
		}
		if ctx.Err() != nil {
			return nil, false, model.NewBackendTimeoutError()
		}
		return nil, true, fmt.Errorf("backend call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		m.breaker.RecordFailure()
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		m.breaker.RecordFailure()
	case resp.StatusCode < 400:
		m.breaker.RecordSuccess()
		// 4xx is the caller's problem, not the backend's health.
	}

	var parsed any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &parsed)
	}

	if resp.StatusCode >= 400 {
		return nil, isRetryableStatus(resp.StatusCode), statusError(resp.StatusCode, parsed)
	}
	return parsed, false, nil
}

// requestHeaders builds the outgoing header set, propagating the request
// identity from the context.
func (m *RestManager) requestHeaders(ctx context.Context, method string, extra map[string]string) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		h.Set("Content-Type", "application/json")
	}

	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		if rctx.Token != "" {
			h.Set("Authorization", "Bearer "+sanitizeHeader(rctx.Token))
		}
		h.Set("X-Tenant-Id", sanitizeHeader(rctx.TenantID))
		h.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		h.Set("X-Request-Subject", sanitizeHeader(rctx.SubjectID))
	}
	for k, v := range extra {
		h.Set(sanitizeHeader(k), sanitizeHeader(v))
	}
	return h
}

// statusError maps a backend status plus parsed body to an error envelope
// carrying the most specific message the backend offered.
func statusError(status int, body any) error {
	msg := extractDetail(body)

	switch status {
	case http.StatusNotFound:
		if msg == "" {
			msg = "record not found"
		}
		return model.NewNotFoundError(msg)
	case http.StatusConflict:
		if msg == "" {
			msg = "conflicting update"
		}
		return model.NewConflictError(msg)
	case http.StatusUnauthorized:
		return model.NewUnauthorizedError(msg)
	case http.StatusForbidden:
		return model.NewForbiddenError(msg)
	case http.StatusUnprocessableEntity:
		if msg == "" {
			msg = "invalid request"
		}
		return &model.ErrorEnvelope{Code: model.ErrValidationError, Message: msg}
	case http.StatusBadRequest:
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewBadRequestError(msg)
	}
	if status >= 500 {
		return model.NewBackendUnavailableError()
	}
	if msg == "" {
		msg = fmt.Sprintf("backend returned status %d", status)
	}
	return model.NewBadRequestError(msg)
}

// extractDetail digs the human-readable message out of the common backend
// error shapes: {data:{detail}}, {detail}, {message}, and {error}.
func extractDetail(body any) string {
	obj, ok := body.(map[string]any)
	if !ok {
		return ""
	}
	if data, ok := obj["data"].(map[string]any); ok {
		if s, ok := data["detail"].(string); ok && s != "" {
			return s
		}
	}
	for _, key := range []string{"detail", "message", "error"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// parseListBody normalizes list responses: {items,total}, {data,total}, or
// a bare array.
func parseListBody(body any) model.ListResult {
	switch v := body.(type) {
	case []any:
		items := toRecords(v)
		return model.ListResult{Items: items, Total: len(items)}
	case map[string]any:
		var arr []any
		if a, ok := v["items"].([]any); ok {
			arr = a
		} else if a, ok := v["data"].([]any); ok {
			arr = a
		}
		items := toRecords(arr)

		total := len(items)
		if t, ok := v["total"].(float64); ok {
			total = int(t)
		}
		return model.ListResult{Items: items, Total: total}
	}
	return model.ListResult{}
}

// parseRecordBody unwraps a single record, tolerating a "data" envelope.
func parseRecordBody(body any) model.Record {
	obj, ok := body.(map[string]any)
	if !ok {
		return nil
	}
	if data, ok := obj["data"].(map[string]any); ok {
		return model.Record(data)
	}
	return model.Record(obj)
}

func toRecords(arr []any) []model.Record {
	records := make([]model.Record, 0, len(arr))
	for _, item := range arr {
		if obj, ok := item.(map[string]any); ok {
			records = append(records, model.Record(obj))
		}
	}
	return records
}

func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	initial := cfg.BackoffInitial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	max := cfg.BackoffMax
	if max <= 0 {
		max = 2 * time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
		if delay > max {
			return max
		}
	}
	return delay
}
