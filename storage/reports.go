package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/RobertJohnDavidson/rag-style-check/models"

	"github.com/google/uuid"
)

// ReportStore archives full audit results as JSON documents
type ReportStore struct {
	store Storage
}

// NewReportStore creates a report archive on top of store
func NewReportStore(store Storage) *ReportStore {
	return &ReportStore{store: store}
}

// Save writes result and returns the key it was stored under
func (r *ReportStore) Save(ctx context.Context, result *models.AuditResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	key := reportKey(result.ID)
	if err := r.store.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

// Load reads back the report of audit id
func (r *ReportStore) Load(ctx context.Context, id uuid.UUID) (*models.AuditResult, error) {
	body, err := r.store.Get(ctx, reportKey(id))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var result models.AuditResult
	if err := json.NewDecoder(body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode report %s: %w", id, err)
	}
	return &result, nil
}

// Delete removes the report of audit id
func (r *ReportStore) Delete(ctx context.Context, id uuid.UUID) error {
	return r.store.Delete(ctx, reportKey(id))
}
