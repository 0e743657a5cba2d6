package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RecordStageCounters emits the per-stage outcome counts for one run.
// With telemetry disabled the meter is a no-op and this costs nothing.
func RecordStageCounters(ctx context.Context, stage string, created, skipped, failed int) {
	counter, err := Meter("").Int64Counter("cmigrate.records",
		metric.WithDescription("Migration record outcomes per stage"))
	if err != nil {
		return
	}
	stageAttr := attribute.String("stage", stage)
	counter.Add(ctx, int64(created), metric.WithAttributes(stageAttr, attribute.String("outcome", "created")))
	counter.Add(ctx, int64(skipped), metric.WithAttributes(stageAttr, attribute.String("outcome", "skipped")))
	counter.Add(ctx, int64(failed), metric.WithAttributes(stageAttr, attribute.String("outcome", "failed")))
}
