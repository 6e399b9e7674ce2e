package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type queryStartKey struct{}

// RegisterDBTracing installs otelgorm and flags queries slower than slowQuery
// on their spans. Query variables stay out of spans unless logFullSQL is set.
func RegisterDBTracing(db *gorm.DB, slowQuery time.Duration, logFullSQL bool, logger *zap.Logger) error {
	opts := []otelgorm.Option{otelgorm.WithDBName("channelsync")}
	if !logFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}

	start := func(tx *gorm.DB) {
		if tx.Statement.Context != nil {
			tx.Statement.Context = context.WithValue(tx.Statement.Context, queryStartKey{}, time.Now())
		}
	}
	finish := func(tx *gorm.DB) {
		markSlowQuery(tx, slowQuery)
	}

	// finish must run while the otelgorm span is still open, so these are
	// registered ahead of the plugin
	cb := db.Callback()
	registrations := []func() error{
		func() error { return cb.Create().Before("gorm:create").Register("slowquery:before_create", start) },
		func() error { return cb.Query().Before("gorm:query").Register("slowquery:before_query", start) },
		func() error { return cb.Update().Before("gorm:update").Register("slowquery:before_update", start) },
		func() error { return cb.Delete().Before("gorm:delete").Register("slowquery:before_delete", start) },
		func() error { return cb.Row().Before("gorm:row").Register("slowquery:before_row", start) },
		func() error { return cb.Raw().Before("gorm:raw").Register("slowquery:before_raw", start) },
		func() error {
			return cb.Create().After("gorm:create").Before("otel:after_create").Register("slowquery:after_create", finish)
		},
		func() error {
			return cb.Query().After("gorm:query").Before("otel:after_query").Register("slowquery:after_query", finish)
		},
		func() error {
			return cb.Update().After("gorm:update").Before("otel:after_update").Register("slowquery:after_update", finish)
		},
		func() error {
			return cb.Delete().After("gorm:delete").Before("otel:after_delete").Register("slowquery:after_delete", finish)
		},
		func() error {
			return cb.Row().After("gorm:row").Before("otel:after_row").Register("slowquery:after_row", finish)
		},
		func() error {
			return cb.Raw().After("gorm:raw").Before("otel:after_raw").Register("slowquery:after_raw", finish)
		},
	}
	for _, register := range registrations {
		if err := register(); err != nil {
			return err
		}
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	logger.Info("Database tracing enabled",
		zap.Duration("slow_query_threshold", slowQuery),
		zap.Bool("log_full_sql", logFullSQL),
	)
	return nil
}

func markSlowQuery(tx *gorm.DB, threshold time.Duration) {
	ctx := tx.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	if tx.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", tx.Statement.Table))
	}
	if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		span.RecordError(tx.Error)
	}

	start, ok := ctx.Value(queryStartKey{}).(time.Time)
	if !ok {
		return
	}
	if elapsed := time.Since(start); elapsed > threshold {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		span.AddEvent("slow_query")
	}
}
