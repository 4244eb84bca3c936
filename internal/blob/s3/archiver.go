package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

var _ domain.Archiver = (*ArchiveImpl)(nil)

// multipartThreshold is the encoded size above which uploads switch to the
// multipart manager.
const multipartThreshold = 64 * 1024 * 1024

// ---------------------------------------------------------------------------
// Parquet record types (archive schema)
// ---------------------------------------------------------------------------

// PositionRecord is the archived form of a closed position. Decimals are
// kept as their exact string form.
type PositionRecord struct {
	TicketID     string `parquet:"ticket_id"`
	Symbol       string `parquet:"symbol"`
	Side         string `parquet:"side"`
	EntryPrice   string `parquet:"entry_price"`
	Volume       string `parquet:"volume"`
	VolumeClosed string `parquet:"volume_closed"`
	RealizedPnL  string `parquet:"realized_pnl"`
	StopLoss     string `parquet:"stop_loss"`
	TakeProfit   string `parquet:"take_profit"`
	Strategy     string `parquet:"strategy"`
	OpenedAt     int64  `parquet:"opened_at,timestamp(nanosecond)"`
	ClosedAt     int64  `parquet:"closed_at,timestamp(nanosecond)"`
}

// FillRecord is the archived form of a fill journal row.
type FillRecord struct {
	ID          string `parquet:"id"`
	TicketID    string `parquet:"ticket_id"`
	Symbol      string `parquet:"symbol"`
	Side        string `parquet:"side"`
	Kind        string `parquet:"kind"`
	Volume      string `parquet:"volume"`
	Price       string `parquet:"price"`
	RealizedPnL string `parquet:"realized_pnl"`
	CashDelta   string `parquet:"cash_delta"`
	At          int64  `parquet:"at,timestamp(nanosecond)"`
}

// ArchiveImpl implements domain.Archiver by reading closed positions and
// fills older than a cutoff, encoding them as Parquet and uploading one file
// per kind and month.
//
// Rows are not deleted from the primary store here. Pruning is a separate
// step once the archive has been verified.
type ArchiveImpl struct {
	source domain.ArchiveSource
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	source domain.ArchiveSource,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		source: source,
		writer: writer,
		reader: reader,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchivePositions uploads closed positions with a close time before the
// cutoff to archive/positions/YYYY-MM.parquet. An existing object for the
// month is left untouched and reported as zero rows.
func (a *ArchiveImpl) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.source.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	records := make([]PositionRecord, 0, len(positions))
	for _, p := range positions {
		records = append(records, positionRecord(p))
	}
	return archive(ctx, a, "positions", before, records)
}

// ArchiveFills uploads fills recorded before the cutoff to
// archive/fills/YYYY-MM.parquet.
func (a *ArchiveImpl) ArchiveFills(ctx context.Context, before time.Time) (int64, error) {
	fills, err := a.source.ListFillsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	records := make([]FillRecord, 0, len(fills))
	for _, f := range fills {
		records = append(records, fillRecord(f))
	}
	return archive(ctx, a, "fills", before, records)
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	path := archivePath(kind, before)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if exists {
		a.logger.Info("archiver: object exists, skipping", slog.String("path", path))
		return 0, nil
	}

	var buf bytes.Buffer
	if err := parquet.Write(&buf, records); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s encode: %w", kind, err)
	}

	if buf.Len() > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, &buf, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, &buf, "application/vnd.apache.parquet")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	a.logger.Info("archiver: uploaded",
		slog.String("path", path),
		slog.Int64("rows", count),
	)

	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff.
//
//	archive/positions/2026-03.parquet
//	archive/fills/2026-03.parquet
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.parquet", kind, before.UTC().Format("2006-01"))
}

func positionRecord(p domain.Position) PositionRecord {
	r := PositionRecord{
		TicketID:     p.TicketID,
		Symbol:       p.Symbol,
		Side:         string(p.Side),
		EntryPrice:   p.EntryPrice.String(),
		Volume:       p.Volume.String(),
		VolumeClosed: p.VolumeClosed.String(),
		RealizedPnL:  p.RealizedPnL.String(),
		Strategy:     p.Strategy,
		OpenedAt:     p.OpenedAt.UnixNano(),
	}
	if p.StopLoss != nil {
		r.StopLoss = p.StopLoss.String()
	}
	if p.TakeProfit != nil {
		r.TakeProfit = p.TakeProfit.String()
	}
	if p.ClosedAt != nil {
		r.ClosedAt = p.ClosedAt.UnixNano()
	}
	return r
}

func fillRecord(f domain.Fill) FillRecord {
	return FillRecord{
		ID:          f.ID,
		TicketID:    f.TicketID,
		Symbol:      f.Symbol,
		Side:        string(f.Side),
		Kind:        string(f.Kind),
		Volume:      f.Volume.String(),
		Price:       f.Price.String(),
		RealizedPnL: f.RealizedPnL.String(),
		CashDelta:   f.CashDelta.String(),
		At:          f.At.UnixNano(),
	}
}
