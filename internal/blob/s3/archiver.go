package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// PositionArchiver writes each terminal position and its submission
// attempts as one JSONL object: the position on the first line, then one
// line per attempt.
//
// Archived rows stay in the primary store; pruning them is a separate step.
type PositionArchiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
}

// NewPositionArchiver creates a PositionArchiver. audit may be nil.
func NewPositionArchiver(writer domain.BlobWriter, audit domain.AuditStore) *PositionArchiver {
	return &PositionArchiver{writer: writer, audit: audit}
}

type archivedPosition struct {
	Record   string          `json:"record"`
	Position domain.Position `json:"position"`
}

type archivedAttempt struct {
	Record  string                   `json:"record"`
	Attempt domain.SubmissionAttempt `json:"attempt"`
}

// ArchivePosition uploads pos with its attempts to
// archive/positions/YYYY-MM-DD/<id>.json.
func (a *PositionArchiver) ArchivePosition(ctx context.Context, pos domain.Position, attempts []domain.SubmissionAttempt) error {
	records := make([]any, 0, len(attempts)+1)
	records = append(records, archivedPosition{Record: "position", Position: pos})
	for _, att := range attempts {
		records = append(records, archivedAttempt{Record: "attempt", Attempt: att})
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive position %s marshal: %w", pos.ID, err)
	}

	path := archivePath(pos)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive position %s upload: %w", pos.ID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.position", map[string]any{
			"path":     path,
			"position": pos.ID,
			"attempts": len(attempts),
		}); err != nil {
			return fmt.Errorf("s3blob: archive position audit log: %w", err)
		}
	}
	return nil
}

// archivePath partitions archives by the day the position ended.
//
//	archive/positions/2026-10-19/6f1c....json
func archivePath(pos domain.Position) string {
	at := pos.UpdatedAt
	if pos.ClosedAt != nil {
		at = *pos.ClosedAt
	}
	return fmt.Sprintf("archive/positions/%s/%s.json", at.UTC().Format(time.DateOnly), pos.ID)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.PositionArchiver = (*PositionArchiver)(nil)
