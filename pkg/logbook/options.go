package logbook

import (
	"log/slog"
	"time"
)

// AppendOptions controls how a single entry is laid out.
type AppendOptions struct {
	Prefix             string
	SectionBreakBefore bool
	SectionBreakAfter  bool
	PrependTimestamp   bool
	RunLevel           int
}

type AppendOption func(o *AppendOptions)

func WithPrefix(prefix string) AppendOption {
	return func(o *AppendOptions) {
		o.Prefix = prefix
	}
}

func SectionBreakBefore() AppendOption {
	return func(o *AppendOptions) {
		o.SectionBreakBefore = true
	}
}

func SectionBreakAfter() AppendOption {
	return func(o *AppendOptions) {
		o.SectionBreakAfter = true
	}
}

func PrependTimestamp() AppendOption {
	return func(o *AppendOptions) {
		o.PrependTimestamp = true
	}
}

// RunLevel indents the entry by two spaces per level above one.
func RunLevel(level int) AppendOption {
	return func(o *AppendOptions) {
		o.RunLevel = level
	}
}

// Option configures a Logbook.
type Option func(l *Logbook)

// WithDestination makes Flush write the log to key inside the bucket opened
// from bucketURL, e.g. "file:///var/log/steps" or "s3://bucket?region=eu-west-1".
func WithDestination(bucketURL, key string) Option {
	return func(l *Logbook) {
		l.bucketURL = bucketURL
		l.key = key
	}
}

// WithBucket flushes into an already opened bucket. The Logbook does not
// close it.
func WithBucket(bucket Bucket, key string) Option {
	return func(l *Logbook) {
		l.bucket = bucket
		l.key = key
		l.ownsBucket = false
	}
}

// WithClock replaces the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Logbook) {
		l.now = now
	}
}

// WithVerbose mirrors every appended line to logger.
func WithVerbose(logger *slog.Logger) Option {
	return func(l *Logbook) {
		l.mirror = logger
	}
}
