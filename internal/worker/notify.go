package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/provider-harvester/internal/harvest"
)

// RecordReady is published after both artifacts of a task are on disk.
type RecordReady struct {
	ProviderID   string `json:"provider_id"`
	URL          string `json:"url"`
	DocumentPath string `json:"document_path"`
	RecordPath   string `json:"record_path"`
	RecordSHA256 string `json:"record_sha256,omitempty"`
	Attempts     int    `json:"attempts"`
	HarvestedAt  string `json:"harvested_at"`
}

// notify is best-effort: the artifact directory is the authoritative
// hand-off, so failures are logged and the task still succeeds.
func (w *Worker) notify(ctx context.Context, task harvest.Task, res attemptResult) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	payload := RecordReady{
		ProviderID:   task.ProviderID,
		URL:          task.URL,
		DocumentPath: res.documentPath,
		RecordPath:   res.recordPath,
		Attempts:     task.Attempts,
		HarvestedAt:  w.clock.Now().UTC().Format(time.RFC3339),
	}
	if w.hasher != nil {
		if sum, err := w.hasher.Hash(res.record); err == nil {
			payload.RecordSHA256 = sum
		}
	}
	msgID, err := w.publisher.Publish(ctx, w.cfg.Topic, payload)
	if err != nil {
		w.logger.Warn("record notification failed",
			zap.String("provider_id", task.ProviderID),
			zap.String("topic", w.cfg.Topic),
			zap.Error(&harvest.TransientError{Stage: harvest.StagePublishRecord, URL: task.URL, Err: err}))
		return
	}
	w.logger.Debug("record notification published",
		zap.String("provider_id", task.ProviderID),
		zap.String("message_id", msgID))
}
