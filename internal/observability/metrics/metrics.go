// Package metrics defines the Prometheus collectors for model calls, tool
// calls, workflow runs, HTTP requests and background tasks.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	xerrors "github.com/danielhardy/obru-ai/internal/errors"
)

const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultTimeout = "timeout"
)

var (
	modelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obru_model_requests_total",
			Help: "Total number of requests sent to the model provider",
		},
		[]string{"provider", "result"},
	)
	modelRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "obru_model_request_duration_seconds",
			Help:    "Model request latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obru_tool_calls_total",
			Help: "Total number of tool executions",
		},
		[]string{"tool", "result"},
	)
	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "obru_tool_call_duration_seconds",
			Help:    "Tool execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
	workflowRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obru_workflow_runs_total",
			Help: "Total number of workflow executions",
		},
		[]string{"workflow", "result"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obru_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"handler", "method", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "obru_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"handler", "method"},
	)
	tasksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "obru_tasks_processed_total",
			Help: "Total number of background tasks processed",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(modelRequestsTotal)
	prometheus.MustRegister(modelRequestDuration)
	prometheus.MustRegister(toolCallsTotal)
	prometheus.MustRegister(toolCallDuration)
	prometheus.MustRegister(workflowRunsTotal)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(tasksProcessedTotal)
}

// Result 将错误归类为指标标签。
func Result(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, context.DeadlineExceeded), xerrors.HasCode(err, xerrors.CodeTimeout):
		return ResultTimeout
	default:
		return ResultError
	}
}

// ObserveModelRequest records one model call.
func ObserveModelRequest(provider string, duration time.Duration, err error) {
	modelRequestsTotal.WithLabelValues(provider, Result(err)).Inc()
	modelRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveToolCall records one tool execution.
func ObserveToolCall(tool string, duration time.Duration, err error) {
	toolCallsTotal.WithLabelValues(tool, Result(err)).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveWorkflowRun records one workflow execution.
func ObserveWorkflowRun(workflow string, err error) {
	workflowRunsTotal.WithLabelValues(workflow, Result(err)).Inc()
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveTask records the outcome of a processed task.
func ObserveTask(kind string, err error) {
	tasksProcessedTotal.WithLabelValues(kind, Result(err)).Inc()
}

// Handler exposes the default registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Observer 把编排器的模型与工具调用转发到 Prometheus，provider 作为模型指标标签。
type Observer struct {
	Provider string
}

// ObserveModelCall implements agent.Observer.
func (o Observer) ObserveModelCall(elapsed time.Duration, err error) {
	ObserveModelRequest(o.Provider, elapsed, err)
}

// ObserveToolCall implements agent.Observer.
func (o Observer) ObserveToolCall(name string, elapsed time.Duration, err error) {
	ObserveToolCall(name, elapsed, err)
}
