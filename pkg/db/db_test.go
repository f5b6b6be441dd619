package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"coursemail/pkg/config"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDSN(t *testing.T) {
	cfg := config.DBConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "coursemail"}
	assert.Equal(t, "postgres://u:p@db:5432/coursemail?sslmode=disable", DSN(cfg))

	cfg.SSLMode = "require"
	assert.True(t, strings.HasSuffix(DSN(cfg), "sslmode=require"))
}

func TestSlowQueryTracer(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tracer := NewSlowQueryTracer(zap.New(core), 50*time.Millisecond)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tracer.now = func() time.Time { return clock }

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	clock = clock.Add(10 * time.Millisecond)
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
	assert.Zero(t, logs.Len())

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT pg_sleep(1)"})
	clock = clock.Add(time.Second)
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
	if assert.Equal(t, 1, logs.Len()) {
		assert.Equal(t, "SELECT pg_sleep(1)", logs.All()[0].ContextMap()["sql"])
	}
}
