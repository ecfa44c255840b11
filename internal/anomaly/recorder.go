package anomaly

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ratewarden/ratewarden/internal/models"
)

// PersistentSink durably stores anomaly records.
type PersistentSink interface {
	Create(ctx context.Context, record *models.AnomalyRecord) error
}

// AuditSink is the fire-and-forget security-log collaborator.
type AuditSink interface {
	LogSecurityEvent(kind string, payload map[string]interface{}, severity models.Severity)
}

// Recorder keeps an in-process append-only list of recent anomaly records,
// bounded by retention, and forwards each record to the durable and audit
// sinks. One instance per process, injected into its consumers.
type Recorder struct {
	mu        sync.RWMutex
	records   []models.AnomalyRecord
	retention time.Duration
	persist   PersistentSink
	audit     AuditSink
}

func NewRecorder(retention time.Duration, persist PersistentSink, audit AuditSink) *Recorder {
	return &Recorder{
		retention: retention,
		persist:   persist,
		audit:     audit,
	}
}

func (r *Recorder) Record(ctx context.Context, record *models.AnomalyRecord) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	r.mu.Lock()
	r.records = append(r.records, *record)
	r.mu.Unlock()

	if r.persist != nil {
		if err := r.persist.Create(ctx, record); err != nil {
			log.Printf("failed to persist anomaly record for %s: %v", record.CallerID, err)
		}
	}

	if r.audit != nil {
		r.audit.LogSecurityEvent(string(record.Kind), map[string]interface{}{
			"caller_id":    record.CallerID,
			"description":  record.Description,
			"auto_blocked": record.AutoBlocked,
			"metrics":      record.Metrics,
		}, record.Severity)
	}
}

// Returns records within [from, to], newest last.
func (r *Recorder) InRange(from, to time.Time) []models.AnomalyRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.AnomalyRecord
	for _, rec := range r.records {
		if !rec.Timestamp.Before(from) && !rec.Timestamp.After(to) {
			out = append(out, rec)
		}
	}
	return out
}

// Drops in-process records past retention. Called by the analytics sweep.
func (r *Recorder) Purge(now time.Time) int {
	cutoff := now.Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.records[:0]
	purged := 0
	for _, rec := range r.records {
		if rec.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return purged
}
