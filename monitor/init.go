package monitor

import (
	"time"

	"github.com/modelrelay/modelrelay/common/config"
	"github.com/modelrelay/modelrelay/common/metrics"
	"github.com/modelrelay/modelrelay/monitor/otel"
	"github.com/modelrelay/modelrelay/monitor/prometheus"
)

// InitMonitoring initializes all monitoring components
func InitMonitoring(version, buildTime, goVersion string, startTime time.Time) error {
	var recorders []metrics.MetricsRecorder

	// Set up the Prometheus recorder if enabled
	if config.EnablePrometheusMetrics {
		recorders = append(recorders, &prometheus.PrometheusRecorder{})
	}

	// Set up the OpenTelemetry recorder if enabled
	if config.OpenTelemetryEnabled {
		otelRecorder, err := otel.NewOtelRecorder()
		if err != nil {
			return err
		}
		recorders = append(recorders, otelRecorder)
	}

	if len(recorders) == 0 {
		metrics.GlobalRecorder = &metrics.NoOpRecorder{}
		return nil
	}

	if len(recorders) == 1 {
		metrics.GlobalRecorder = recorders[0]
	} else {
		metrics.GlobalRecorder = &metrics.MultiRecorder{Recorders: recorders}
	}

	// Initialize system metrics
	metrics.GlobalRecorder.InitSystemMetrics(version, buildTime, goVersion, startTime)

	return nil
}
