package artifact

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/provider-harvester/internal/harvest"
	"github.com/JakeFAU/provider-harvester/internal/metrics"
)

const (
	documentContentType = "text/html; charset=utf-8"
	recordContentType   = "application/json"
)

// Writer persists artifacts to the primary store and then to every mirror.
// Each write replaces the previous object whole, so a retry that succeeds
// overwrites a partial result from an earlier attempt.
type Writer struct {
	primary harvest.BlobStore
	mirrors []harvest.BlobStore
	logger  *zap.Logger
}

// NewWriter builds a Writer around primary and optional mirrors.
func NewWriter(primary harvest.BlobStore, logger *zap.Logger, mirrors ...harvest.BlobStore) (*Writer, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]harvest.BlobStore, 0, len(mirrors))
	for _, m := range mirrors {
		if m != nil {
			kept = append(kept, m)
		}
	}
	return &Writer{primary: primary, mirrors: kept, logger: logger}, nil
}

// SaveDocument stores the raw document body for rawURL and returns its relative path.
func (w *Writer) SaveDocument(ctx context.Context, rawURL string, body []byte) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", fmt.Errorf("document url is required")
	}
	p := DocumentPath(rawURL)
	if err := w.put(ctx, p, documentContentType, body); err != nil {
		return "", err
	}
	metrics.ObserveArtifact("document", len(body))
	return p, nil
}

// SaveRecord stores the structured record for providerID and returns its relative path.
func (w *Writer) SaveRecord(ctx context.Context, providerID string, record []byte) (string, error) {
	if strings.TrimSpace(providerID) == "" {
		return "", fmt.Errorf("provider id is required")
	}
	p := RecordPath(providerID)
	if err := w.put(ctx, p, recordContentType, record); err != nil {
		return "", err
	}
	metrics.ObserveArtifact("record", len(record))
	return p, nil
}

func (w *Writer) put(ctx context.Context, p, contentType string, data []byte) error {
	uri, err := w.primary.PutObject(ctx, p, contentType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	for _, m := range w.mirrors {
		mirrorURI, err := m.PutObject(ctx, p, contentType, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("mirror %s: %w", p, err)
		}
		w.logger.Debug("artifact mirrored", zap.String("path", p), zap.String("uri", mirrorURI))
	}
	w.logger.Debug("artifact written", zap.String("path", p), zap.String("uri", uri), zap.Int("bytes", len(data)))
	return nil
}
