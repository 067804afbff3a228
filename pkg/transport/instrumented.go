// Copyright © 2018 One Concern

package transport

import (
	"context"
	"strings"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	otlog "github.com/opentracing/opentracing-go/log"
	"go.uber.org/zap"
)

// Instrument wraps a transport with tracing spans and debug logs around each call.
//
// A nil tracer falls back to the global tracer, a nil logger to a no-op logger.
func Instrument(tr opentracing.Tracer, l *zap.Logger, t Transport) Transport {
	if tr == nil {
		tr = opentracing.GlobalTracer()
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &instrumentedTransport{
		tr:        tr,
		transport: t,
		l:         l.With(zap.String("transport", t.String())),
	}
}

type instrumentedTransport struct {
	transport Transport
	tr        opentracing.Tracer
	l         *zap.Logger
}

func (i *instrumentedTransport) String() string {
	return i.transport.String()
}

func (i *instrumentedTransport) opName(name string) string {
	return strings.Join([]string{"transport", i.String(), name}, ".")
}

func (i *instrumentedTransport) spanFromContext(ctx context.Context, name string) opentracing.Span {
	parent := opentracing.SpanFromContext(ctx)
	if parent != nil {
		return i.tr.StartSpan(name, opentracing.ChildOf(parent.Context()))
	}
	return i.tr.StartSpan(name)
}

func (i *instrumentedTransport) finish(span opentracing.Span, err error) {
	if err != nil {
		ext.Error.Set(span, true)
		span.LogFields(otlog.Error(err))
	}
	span.Finish()
}

func (i *instrumentedTransport) Fetch(ctx context.Context, remotePath string) ([]byte, error) {
	span := i.spanFromContext(ctx, i.opName("Fetch"))
	span.SetTag("remote.path", remotePath)
	start := time.Now()

	content, err := i.transport.Fetch(opentracing.ContextWithSpan(ctx, span), remotePath)
	i.finish(span, err)

	i.l.Debug("transport fetch",
		zap.String("path", remotePath),
		zap.Int("size", len(content)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	return content, err
}

func (i *instrumentedTransport) Push(ctx context.Context, remotePath string, content []byte) error {
	span := i.spanFromContext(ctx, i.opName("Push"))
	span.SetTag("remote.path", remotePath)
	start := time.Now()

	err := i.transport.Push(opentracing.ContextWithSpan(ctx, span), remotePath, content)
	i.finish(span, err)

	i.l.Debug("transport push",
		zap.String("path", remotePath),
		zap.Int("size", len(content)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	return err
}
