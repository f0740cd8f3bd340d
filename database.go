package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/goldfish-inc/oceanid/apps/conll-ingestion-worker/conll"
)

const schemaDDL = `
CREATE SCHEMA IF NOT EXISTS stage;

CREATE TABLE IF NOT EXISTS stage.conll_jobs (
	job_id          UUID PRIMARY KEY,
	output_dir      TEXT NOT NULL,
	source_file     TEXT NOT NULL,
	ratios          JSONB NOT NULL,
	dynamic_tags    BOOLEAN NOT NULL,
	mapping_source  TEXT,
	tag_mapping     JSONB,
	summary         JSONB,
	new_tags        TEXT[],
	s3_prefix       TEXT,
	status          TEXT NOT NULL,
	error_message   TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS stage.conll_records (
	job_id      UUID NOT NULL REFERENCES stage.conll_jobs(job_id) ON DELETE CASCADE,
	split       TEXT NOT NULL,
	record_id   TEXT NOT NULL,
	tokens      TEXT[] NOT NULL,
	ner_tags    BIGINT[] NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (job_id, split, record_id)
);
`

// ensureSchema creates the audit tables when they are missing.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaDDL)
	return err
}

// createJobRecord inserts the 'processing' row for a job.
func (w *Worker) createJobRecord(ctx context.Context, job *jobState) error {
	ratiosJSON, err := json.Marshal(job.Ratios)
	if err != nil {
		return fmt.Errorf("failed to marshal ratios: %w", err)
	}

	_, err = w.db.ExecContext(ctx, `
		INSERT INTO stage.conll_jobs (
			job_id, output_dir, source_file, ratios, dynamic_tags,
			mapping_source, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, 'processing', NOW())
	`, job.ID, job.Dir, job.FileName, ratiosJSON, job.Dynamic, job.MappingSource)
	if err != nil {
		storageErrors.WithLabelValues("create_job").Inc()
		return fmt.Errorf("failed to create job record: %w", err)
	}
	return nil
}

// storeRecords bulk inserts every converted record of the job.
func (w *Worker) storeRecords(ctx context.Context, jobID string, splits []splitResult) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		storageErrors.WithLabelValues("begin_transaction").Inc()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema("stage", "conll_records",
		"job_id", "split", "record_id", "tokens", "ner_tags", "created_at",
	))
	if err != nil {
		storageErrors.WithLabelValues("prepare_insert").Inc()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	count := 0
	for _, s := range splits {
		for _, rec := range s.Records {
			tagIDs := make([]int64, len(rec.TagIDs))
			for i, id := range rec.TagIDs {
				tagIDs[i] = int64(id)
			}
			if _, err := stmt.ExecContext(ctx,
				jobID, s.Group.Name, rec.ID, pq.Array(rec.Tokens), pq.Array(tagIDs), now,
			); err != nil {
				storageErrors.WithLabelValues("insert_record").Inc()
				return fmt.Errorf("failed to insert record %s/%s: %w", s.Group.Name, rec.ID, err)
			}
			count++
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		storageErrors.WithLabelValues("exec_bulk_insert").Inc()
		return fmt.Errorf("failed to execute bulk insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		storageErrors.WithLabelValues("commit_transaction").Inc()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	w.log.Debug().Str("job_id", jobID).Int("records", count).Msg("Stored records")
	return nil
}

// completeJobRecord stores the final tag table and per-split summaries.
func (w *Worker) completeJobRecord(ctx context.Context, job *jobState, reg *conll.Registry, results map[string]conll.Summary, newTags []string) error {
	mappingJSON, err := json.Marshal(reg.ID2Label())
	if err != nil {
		return fmt.Errorf("failed to marshal tag mapping: %w", err)
	}
	summaryJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	_, err = w.db.ExecContext(ctx, `
		UPDATE stage.conll_jobs
		SET status = 'completed',
			tag_mapping = $1,
			summary = $2,
			new_tags = $3,
			s3_prefix = NULLIF($4, ''),
			completed_at = NOW()
		WHERE job_id = $5
	`, mappingJSON, summaryJSON, pq.Array(newTags), job.S3Prefix, job.ID)
	if err != nil {
		storageErrors.WithLabelValues("update_summary").Inc()
		return fmt.Errorf("failed to update job record: %w", err)
	}
	return nil
}

// failJobRecord marks the job failed. Errors are logged, not returned.
func (w *Worker) failJobRecord(jobID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := w.db.ExecContext(ctx, `
		UPDATE stage.conll_jobs
		SET status = 'failed',
			error_message = $1,
			completed_at = NOW()
		WHERE job_id = $2
	`, cause.Error(), jobID)
	if err != nil {
		w.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to update job status")
		storageErrors.WithLabelValues("update_status").Inc()
	}
}
