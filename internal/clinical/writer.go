// Package clinical is the boundary to the permanent clinical record system.
// The pipeline only ever writes through it from a validated confirmation.
package clinical

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snditnz/verbumcare-demo-sub003/internal/model"
)

// RecordRef points at one record created downstream.
type RecordRef struct {
	Type      string    `json:"type"`
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Writer commits confirmed category data to the clinical record system and
// returns references to the created records.
type Writer interface {
	Write(ctx context.Context, item *model.ReviewItem, finalData []model.Category) ([]RecordRef, error)
}

// MemoryWriter is the in-process writer used until the records service is
// wired in, and by tests. It keeps what it wrote for inspection.
type MemoryWriter struct {
	mu      sync.Mutex
	Written map[uuid.UUID][]model.Category
}

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{Written: make(map[uuid.UUID][]model.Category)}
}

func (w *MemoryWriter) Write(ctx context.Context, item *model.ReviewItem, finalData []model.Category) ([]RecordRef, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Written[item.ID] = finalData

	now := time.Now().UTC()
	refs := make([]RecordRef, 0, len(finalData))
	for _, c := range finalData {
		refs = append(refs, RecordRef{Type: c.Type, ID: uuid.New(), CreatedAt: now})
	}
	return refs, nil
}
