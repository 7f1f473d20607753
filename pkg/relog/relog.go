// Package relog threads a *logrus.Entry through context.Context the way
// github.com/datawire/dlib/dlog threads its logger, but backed by logrus
// (the logger the rest of the Clash-lineage pack uses) instead of dlib's
// default backend.
package relog

import (
	"context"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

// WithLogger returns a child context carrying entry as its logger.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry)
}

// WithField returns a child context whose logger has an extra field set.
func WithField(ctx context.Context, key string, value interface{}) context.Context {
	return WithLogger(ctx, entryFrom(ctx).WithField(key, value))
}

func entryFrom(ctx context.Context) *logrus.Entry {
	if e, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok {
		return e
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func Debugf(ctx context.Context, format string, args ...interface{}) { entryFrom(ctx).Debugf(format, args...) }
func Infof(ctx context.Context, format string, args ...interface{})  { entryFrom(ctx).Infof(format, args...) }
func Warnf(ctx context.Context, format string, args ...interface{})  { entryFrom(ctx).Warnf(format, args...) }
func Errorf(ctx context.Context, format string, args ...interface{}) {
	entryFrom(ctx).Errorf(format, args...)
}

func Error(ctx context.Context, err error) {
	if err != nil {
		entryFrom(ctx).Error(err)
	}
}
