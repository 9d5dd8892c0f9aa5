// Package metrics records the outcomes of ownership resolution in local
// files, for simple setups without an OpenTelemetry collector.
package metrics

import (
	"context"
	"encoding/csv"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/tzrikka/revowners/internal/logger"
	"github.com/tzrikka/revowners/pkg/ownership"
	"github.com/tzrikka/xdg"
)

const (
	fileFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY
	filePerms = xdg.NewFilePermissions
)

// ReportLog appends a CSV record for every ownership report.
type ReportLog struct {
	mu   sync.Mutex
	path string
}

// NewReportLog returns a [ReportLog] which writes to the given file path.
// It returns nil if the path is empty, and a nil [ReportLog] does nothing.
func NewReportLog(path string) *ReportLog {
	if path == "" {
		return nil
	}
	return &ReportLog{path: path}
}

// Record appends the given report's summary to the log file. Failures are
// logged but not returned, because they don't affect the report itself.
func (l *ReportLog) Record(ctx context.Context, r *ownership.Report) {
	if l == nil || r == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record := []string{
		time.Now().UTC().Format(time.RFC3339),
		r.PullRequest.URL(),
		r.User,
		string(r.State),
		strconv.Itoa(r.Status.Received),
		strconv.Itoa(r.Status.Required),
		strconv.Itoa(r.Status.TotalFiles),
	}

	if err := AppendToCSVFile(l.path, record); err != nil {
		logger.FromContext(ctx).Error("metrics error: failed to record ownership report",
			slog.Any("error", err), slog.String("path", l.path))
	}
}

func AppendToCSVFile(path string, record []string) error {
	f, err := os.OpenFile(path, fileFlags, filePerms) //gosec:disable G304 -- specified by the user
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		return err
	}

	w.Flush()
	return w.Error()
}
