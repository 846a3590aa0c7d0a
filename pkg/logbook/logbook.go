// Package logbook keeps an ordered, line-oriented run log in memory and
// persists it to blob storage on demand.
//
// Entries are plain strings or structured values. Structured values are
// encoded as JSON and pretty printed before being split into lines. Flush
// writes the whole log as a single object, so repeated flushes overwrite the
// previous copy with a longer one.
package logbook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/pretty"
	"gocloud.dev/blob"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

const (
	indentWidth       = 2
	sectionBreakWidth = 40
	prettyWidth       = 100
	timestampLayout   = "2006-01-02 15:04:05"
)

var sectionBreak = strings.Repeat("-", sectionBreakWidth)

// Bucket is the part of *blob.Bucket the Logbook writes through.
type Bucket interface {
	WriteAll(ctx context.Context, key string, p []byte, opts *blob.WriterOptions) error
	Close() error
}

// Logbook is safe for concurrent use.
type Logbook struct {
	mu         sync.Mutex
	lines      []string
	bucketURL  string
	key        string
	bucket     Bucket
	ownsBucket bool
	now        func() time.Time
	mirror     *slog.Logger
}

// New creates a Logbook and records its creation time.
func New(opts ...Option) *Logbook {
	l := &Logbook{
		now:        time.Now,
		ownsBucket: true,
	}
	for _, opt := range opts {
		opt(l)
	}

	l.Append("Log created", PrependTimestamp(), SectionBreakAfter())

	return l
}

// Append adds entry to the log. Strings are split on newlines; any other
// value is rendered as indented JSON.
func (l *Logbook) Append(entry any, opts ...AppendOption) {
	o := AppendOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	indent := computeIndent(o.RunLevel)
	timestamp := ""
	if o.PrependTimestamp {
		timestamp = toUTCText(l.now()) + " | "
	}

	text, isText := entry.(string)
	prefix := o.Prefix
	if !isText {
		text = formatStructured(entry)
		if prefix != "" {
			prefix += ": "
		}
	}

	if o.SectionBreakBefore {
		l.addSectionBreak(o.RunLevel)
	}

	formatted := make([]string, 0, strings.Count(text, "\n")+1)
	for idx, line := range strings.Split(text, "\n") {
		linePrefix := ""
		if idx == 0 {
			linePrefix = prefix
		}
		formatted = append(formatted, indent+timestamp+linePrefix+line)
	}
	l.lines = append(l.lines, formatted...)

	if o.SectionBreakAfter {
		l.addSectionBreak(o.RunLevel)
	}

	if l.mirror != nil {
		l.mirror.Info(strings.Join(formatted, "\n"))
	}
}

// AddSectionBreak appends a dashed separator unless the last line already is one.
func (l *Logbook) AddSectionBreak(runLevel int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addSectionBreak(runLevel)
}

func (l *Logbook) addSectionBreak(runLevel int) {
	if n := len(l.lines); n > 0 && strings.Contains(l.lines[n-1], sectionBreak) {
		return
	}
	l.lines = append(l.lines, computeIndent(runLevel)+sectionBreak)
}

// Lines returns a copy of the log lines.
func (l *Logbook) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, len(l.lines))
	copy(out, l.lines)

	return out
}

// Format joins the log into a single text block.
func (l *Logbook) Format() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return strings.Join(l.lines, "\n")
}

// Destination returns where Flush writes, or "" when flushing is disabled.
func (l *Logbook) Destination() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.key == "" {
		return ""
	}
	if l.bucketURL == "" {
		return l.key
	}

	return strings.TrimSuffix(l.bucketURL, "/") + "/" + l.key
}

// Flush persists the log. It does nothing when no destination was configured.
func (l *Logbook) Flush(ctx context.Context) error {
	if l.Destination() == "" {
		return nil
	}

	l.Append("Log written", PrependTimestamp(), SectionBreakBefore())

	bucket, err := l.openBucket(ctx)
	if err != nil {
		return err
	}

	err = bucket.WriteAll(ctx, l.key, []byte(l.Format()), &blob.WriterOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return errors.Wrapf(err, "unable to write log to %s", l.Destination())
	}

	return nil
}

// Close releases the bucket opened by Flush, if any.
func (l *Logbook) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bucket == nil || !l.ownsBucket {
		return nil
	}
	err := l.bucket.Close()
	l.bucket = nil

	return errors.Wrap(err, "unable to close log bucket")
}

func (l *Logbook) openBucket(ctx context.Context) (Bucket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bucket != nil {
		return l.bucket, nil
	}

	bucket, err := blob.OpenBucket(ctx, l.bucketURL)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open log bucket %s", l.bucketURL)
	}
	l.bucket = bucket

	return bucket, nil
}

func computeIndent(runLevel int) string {
	level := runLevel - 1
	if level < 0 {
		level = 0
	}

	return strings.Repeat(" ", indentWidth*level)
}

func formatStructured(entry any) string {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf("%+v", entry)
	}
	out := pretty.PrettyOptions(raw, &pretty.Options{
		Width:  prettyWidth,
		Indent: strings.Repeat(" ", indentWidth),
	})

	return strings.TrimRight(string(out), "\n")
}

func toUTCText(t time.Time) string {
	return t.UTC().Format(timestampLayout) + " UTC"
}
