package worker

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

func (w *Worker) initMetrics() {
	meter := otel.Meter("github.com/callscribe/callscribe/internal/worker")

	var err error
	w.segCounter, err = meter.Int64Counter("callscribe.segments.accepted",
		metric.WithDescription("Transcript segments accepted into the session sequence"))
	if err != nil {
		w.log.Warn("failed to create segment counter", slog.String("error", err.Error()))
	}

	w.decodeHist, err = meter.Float64Histogram("callscribe.decode.duration",
		metric.WithDescription("Per-chunk transcription duration"),
		metric.WithUnit("s"))
	if err != nil {
		w.log.Warn("failed to create decode histogram", slog.String("error", err.Error()))
	}

	depth, err := meter.Int64ObservableGauge("callscribe.queue.depth",
		metric.WithDescription("Pending chunks in the transcription work queue"))
	if err != nil {
		w.log.Warn("failed to create queue gauge", slog.String("error", err.Error()))
		return
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(depth, int64(w.queue.Len()))
		return nil
	}, depth)
	if err != nil {
		w.log.Warn("failed to register queue gauge callback", slog.String("error", err.Error()))
	}
}
