package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"butler/internal/auth"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	crashTracerName = "butler/crash"

	attrUserID    = "enduser.id"
	attrUserEmail = "enduser.email"
	attrUserName  = "enduser.name"
)

// CrashSink marca relatórios de erro com o usuário atual via OpenTelemetry.
type CrashSink struct {
	tracer trace.Tracer

	mu   sync.RWMutex
	user *auth.User
}

// NewCrashSink usa tp, ou o provider global quando tp é nil.
func NewCrashSink(tp trace.TracerProvider) *CrashSink {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &CrashSink{tracer: tp.Tracer(crashTracerName)}
}

func (c *CrashSink) Identify(user *auth.User) {
	if user == nil {
		return
	}
	c.mu.Lock()
	clone := *user
	c.user = &clone
	c.mu.Unlock()

	_, span := c.tracer.Start(context.Background(), "crash.identify", trace.WithAttributes(userAttributes(&clone)...))
	span.End()
}

func (c *CrashSink) Reset() {
	c.mu.Lock()
	c.user = nil
	c.mu.Unlock()

	_, span := c.tracer.Start(context.Background(), "crash.reset")
	span.End()
}

// Report registra err como um span de erro marcado com o usuário atual.
func (c *CrashSink) Report(ctx context.Context, err error) {
	if err == nil {
		return
	}
	c.mu.RLock()
	user := c.user
	c.mu.RUnlock()

	_, span := c.tracer.Start(ctx, "crash.report", trace.WithAttributes(userAttributes(user)...))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

// Recover reporta um panic e o propaga. Uso: defer sink.Recover(ctx)
func (c *CrashSink) Recover(ctx context.Context) {
	if r := recover(); r != nil {
		c.Report(ctx, fmt.Errorf("panic: %v", r))
		panic(r)
	}
}

func userAttributes(user *auth.User) []attribute.KeyValue {
	if user == nil {
		return nil
	}
	attrs := []attribute.KeyValue{attribute.String(attrUserID, strconv.FormatInt(user.ID, 10))}
	if user.Email != "" {
		attrs = append(attrs, attribute.String(attrUserEmail, user.Email))
	}
	if user.Name != "" {
		attrs = append(attrs, attribute.String(attrUserName, user.Name))
	}
	return attrs
}
