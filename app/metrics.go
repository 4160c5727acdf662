package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"buddy/runtime"
)

// runtimeMetrics exposes the actor's event stream as four Prometheus
// counters: completed tasks, failed tasks, approval waits, and tool calls
// broken out by tool name. Other event types are not counted.
type runtimeMetrics struct {
	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter
	toolCalls      *prometheus.CounterVec
	approvalWaits  prometheus.Counter
}

func newRuntimeMetrics() *runtimeMetrics {
	return &runtimeMetrics{
		tasksCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "buddy_tasks_completed_total",
			Help: "Prompt tasks that completed successfully.",
		}),
		tasksFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "buddy_tasks_failed_total",
			Help: "Prompt tasks that ended in error.",
		}),
		toolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "buddy_tool_calls_total",
			Help: "Tool calls dispatched by name.",
		}, []string{"tool"}),
		approvalWaits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "buddy_approval_waits_total",
			Help: "Shell commands that paused a task awaiting approval.",
		}),
	}
}

// observe updates counters from one runtime event. Unrecognized event
// types are silently ignored; this is an observability side channel, not
// the REPL's own rendering path.
func (m *runtimeMetrics) observe(event runtime.RuntimeEvent) {
	switch e := event.(type) {
	case runtime.TaskCompletedEvent:
		m.tasksCompleted.Inc()
	case runtime.TaskFailedEvent:
		m.tasksFailed.Inc()
	case runtime.ToolCallRequestedEvent:
		m.toolCalls.WithLabelValues(e.Name).Inc()
	case runtime.TaskWaitingApprovalEvent:
		m.approvalWaits.Inc()
	}
}

// serveMetrics starts a /metrics HTTP endpoint and returns a shutdown func.
// A bind failure is logged and treated as non-fatal: metrics are an
// optional side channel, never a precondition for the REPL itself.
func serveMetrics(addr string, logger zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Str("addr", addr).Msg("metrics server exited")
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}
