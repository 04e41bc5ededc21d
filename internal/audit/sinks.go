package audit

import (
	"context"

	"github.com/ossettyres/tyre-api/internal/models"
	"github.com/pkg/errors"
)

// Appender appends rows to a spreadsheet range.
type Appender interface {
	Append(ctx context.Context, rangeA1 string, rows [][]any) error
}

// SheetsSink writes records of the configured kinds to their sheet range.
// Kinds without a range are skipped.
type SheetsSink struct {
	sheets Appender
	ranges map[Kind]string
}

func NewSheetsSink(sheets Appender, ranges map[Kind]string) *SheetsSink {
	return &SheetsSink{sheets: sheets, ranges: ranges}
}

func (s *SheetsSink) Name() string {
	return "sheets"
}

func (s *SheetsSink) Write(ctx context.Context, records []Record) error {
	rowsByRange := make(map[string][][]any)
	var order []string
	for _, rec := range records {
		rng, ok := s.ranges[rec.Kind]
		if !ok || rng == "" {
			continue
		}
		if _, seen := rowsByRange[rng]; !seen {
			order = append(order, rng)
		}
		rowsByRange[rng] = append(rowsByRange[rng], rec.Row())
	}

	for _, rng := range order {
		if err := s.sheets.Append(ctx, rng, rowsByRange[rng]); err != nil {
			return errors.WithMessagef(err, "append to %s", rng)
		}
	}
	return nil
}

type AuditWriter interface {
	CreateBatch(ctx context.Context, logs []*models.AuditLog) error
}

// DatabaseSink stores every record in the audit_logs table.
type DatabaseSink struct {
	repo AuditWriter
}

func NewDatabaseSink(repo AuditWriter) *DatabaseSink {
	return &DatabaseSink{repo: repo}
}

func (s *DatabaseSink) Name() string {
	return "database"
}

func (s *DatabaseSink) Write(ctx context.Context, records []Record) error {
	logs := make([]*models.AuditLog, 0, len(records))
	for _, rec := range records {
		logs = append(logs, &models.AuditLog{
			Timestamp:      rec.Timestamp.UTC(),
			Kind:           string(rec.Kind),
			RequestID:      rec.RequestID,
			ClientIP:       rec.ClientIP,
			Subject:        rec.Subject,
			Method:         rec.Method,
			StatusCode:     rec.Status,
			UpstreamStatus: rec.UpstreamStatus,
			Detail:         rec.Detail,
			ResponseTimeMs: int(rec.Duration.Milliseconds()),
		})
	}
	return errors.WithMessage(s.repo.CreateBatch(ctx, logs), "create audit batch")
}
