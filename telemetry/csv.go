package telemetry

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CSV writes records to a file, one row per record under a Header row.
type CSV struct {
	f      *os.File
	w      *bufio.Writer
	fmt    string
	rows   int
	logger *zap.Logger
}

// NewCSV creates or truncates the file at filename.
func NewCSV(filename string, logger *zap.Logger) (*CSV, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating telemetry log %s", filename)
	}
	l := &CSV{f: f, w: bufio.NewWriter(f), logger: logger.Named("csv")}

	// T, then Mode, then floats
	s := "%f,%s," + strings.Repeat("%f,", len(Header)-2)
	l.fmt = s[:len(s)-1] + "\n"
	if _, err := fmt.Fprint(l.w, strings.Join(Header, ","), "\n"); err != nil {
		return nil, multierr.Append(errors.Wrap(err, "error writing telemetry header"), f.Close())
	}
	return l, nil
}

// Write appends a row for r.
func (l *CSV) Write(r Record) error {
	if _, err := fmt.Fprintf(l.w, l.fmt, r.values()...); err != nil {
		return errors.Wrap(err, "error writing telemetry row")
	}
	l.rows++
	return nil
}

// Close flushes and closes the file.
func (l *CSV) Close() error {
	err := multierr.Append(l.w.Flush(), l.f.Sync())
	if fi, serr := l.f.Stat(); serr == nil {
		l.logger.Info("telemetry log closed",
			zap.String("file", l.f.Name()),
			zap.String("rows", humanize.Comma(int64(l.rows))),
			zap.String("size", humanize.Bytes(uint64(fi.Size()))))
	}
	return multierr.Append(err, l.f.Close())
}
