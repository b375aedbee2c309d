package diag

import (
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 指标：
// - covagg_op_total{comp,stage,result}
// - covagg_error_total{comp,code}
// - covagg_op_duration_ms{comp,stage}
// 注册在私有 Registry 上；批处理进程不暴露 HTTP 端点，退出时可按文本格式导出。
var (
	metricsMu sync.RWMutex
	registry  *prometheus.Registry
	opTotal   *prometheus.CounterVec
	errTotal  *prometheus.CounterVec
	opDur     *prometheus.HistogramVec
)

func init() { ResetMetrics() }

// ResetMetrics 以全新 Registry 重建全部指标（测试隔离使用）。
func ResetMetrics() {
	reg := prometheus.NewRegistry()
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "covagg",
		Name:      "op_total",
		Help:      "Pipeline operations by component, stage and result.",
	}, []string{"comp", "stage", "result"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "covagg",
		Name:      "error_total",
		Help:      "Classified errors by component.",
	}, []string{"comp", "code"})
	dur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "covagg",
		Name:      "op_duration_ms",
		Help:      "Stage duration in milliseconds.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"comp", "stage"})
	reg.MustRegister(ops, errs, dur)

	metricsMu.Lock()
	registry, opTotal, errTotal, opDur = reg, ops, errs, dur
	metricsMu.Unlock()
}

// Registry 返回当前私有 Registry。
func Registry() *prometheus.Registry {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return registry
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	errTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	opDur.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// OpCounter 返回指定标签的计数器（测试读取使用）。
func OpCounter(comp, stage, result string) prometheus.Counter {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return opTotal.WithLabelValues(comp, stage, result)
}

// ErrorCounter 返回指定标签的错误计数器。
func ErrorCounter(comp, code string) prometheus.Counter {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return errTotal.WithLabelValues(comp, code)
}

// WriteMetrics 以 Prometheus 文本格式导出全部指标。
func WriteMetrics(w io.Writer) error {
	mfs, err := Registry().Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
