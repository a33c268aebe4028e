package orm

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const tracerName = "lovpulse.orm"

type registrar interface {
	Register(name string, fn func(*gorm.DB)) error
}

// tracingPlugin 为每条语句创建客户端 span
// withSQL 为 true 时记录完整 SQL，可能包含会话数据
type tracingPlugin struct {
	withSQL bool
}

func (p *tracingPlugin) Name() string { return "lovpulse:tracing" }

func (p *tracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		op            string
		before, after registrar
	}{
		{"create", cb.Create().Before("gorm:create"), cb.Create().After("gorm:create")},
		{"query", cb.Query().Before("gorm:query"), cb.Query().After("gorm:query")},
		{"update", cb.Update().Before("gorm:update"), cb.Update().After("gorm:update")},
		{"delete", cb.Delete().Before("gorm:delete"), cb.Delete().After("gorm:delete")},
		{"row", cb.Row().Before("gorm:row"), cb.Row().After("gorm:row")},
		{"raw", cb.Raw().Before("gorm:raw"), cb.Raw().After("gorm:raw")},
	}

	system := db.Dialector.Name()
	for _, h := range hooks {
		if err := h.before.Register("lovpulse:before_"+h.op, p.start(system, h.op)); err != nil {
			return fmt.Errorf("register %s: %w", h.op, err)
		}
		if err := h.after.Register("lovpulse:after_"+h.op, p.end); err != nil {
			return fmt.Errorf("register %s: %w", h.op, err)
		}
	}
	return nil
}

func (p *tracingPlugin) start(system, op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		// Provider 可能晚于数据库初始化，每次取 tracer
		ctx, _ = otel.Tracer(tracerName).Start(ctx, "db."+op,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("db.system", system),
				attribute.String("db.operation", op),
			),
		)
		db.Statement.Context = ctx
	}
}

func (p *tracingPlugin) end(db *gorm.DB) {
	span := trace.SpanFromContext(db.Statement.Context)
	if !span.IsRecording() {
		return
	}
	defer span.End()

	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.table", db.Statement.Table))
	}
	if p.withSQL {
		if sql := db.Statement.SQL.String(); sql != "" {
			span.SetAttributes(attribute.String("db.statement", sql))
		}
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))

	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.RecordError(db.Error)
		span.SetStatus(codes.Error, db.Error.Error())
	}
}
