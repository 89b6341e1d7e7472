package circuitbreaker

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper guards the embedding, rerank and Qdrant HTTP clients. A
// transport error or a 5xx answer counts against the breaker; 4xx is the
// caller's problem and leaves the breaker alone.
type HTTPWrapper struct {
	client  *http.Client
	cb      *CircuitBreaker
	name    string
	service string
	logger  *zap.Logger
}

// NewHTTPWrapper builds the wrapper with the HTTP breaker settings and
// registers it with the global metrics collector under name/service.
func NewHTTPWrapper(client *http.Client, name, service string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := NewCircuitBreaker(name, GetHTTPConfig().ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker(name, service, cb)
	return &HTTPWrapper{client: client, cb: cb, name: name, service: service, logger: logger}
}

// serverError tags a 5xx answer for breaker accounting only; the
// response itself still goes back to the caller.
type serverError struct{ code int }

func (e *serverError) Error() string { return http.StatusText(e.code) }

// Do sends the request through the breaker. A 5xx response is counted as
// a breaker failure but returned to the caller with a nil error, so
// clients keep reading status codes the usual way.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var doErr error
		resp, doErr = hw.client.Do(req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= 500 {
			return &serverError{code: resp.StatusCode}
		}
		return nil
	})

	GlobalMetricsCollector.RecordRequest(hw.name, hw.service, hw.cb.State(), err == nil)

	if _, ok := err.(*serverError); ok {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}
