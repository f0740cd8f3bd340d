package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/goldfish-inc/oceanid/apps/conll-ingestion-worker/conll"
)

const (
	tagTableFile = "class_mapping.py"
	id2LabelFile = "id2label.json"
)

// jobRequest is a validated upload.
type jobRequest struct {
	FolderName string
	FileName   string
	Content    []byte
	Ratios     conll.Ratios
	CustomMap  map[int]string // nil when the request carried none
	Dynamic    bool
}

// jobState tracks one job while it runs.
type jobState struct {
	ID            string
	Dir           string
	FileName      string
	Ratios        conll.Ratios
	Dynamic       bool
	MappingSource string
	S3Prefix      string
}

// JobResponse is the success body of /process_conll.
type JobResponse struct {
	Message         string         `json:"message"`
	JobID           string         `json:"job_id"`
	OutputDirectory string         `json:"output_directory"`
	S3Prefix        string         `json:"s3_prefix,omitempty"`
	ProcessingInfo  ProcessingInfo `json:"processing_info"`
}

type ProcessingInfo struct {
	MappingSource string           `json:"mapping_source"`
	Steps         []ProcessingStep `json:"steps"`
}

type ProcessingStep struct {
	Action       string                   `json:"action"`
	FilesCreated []FileCount              `json:"files_created,omitempty"`
	Ratios       *conll.Ratios            `json:"ratios,omitempty"`
	Results      map[string]conll.Summary `json:"results,omitempty"`
}

type FileCount struct {
	File   string `json:"file"`
	Blocks int    `json:"blocks"`
}

// runJob splits, converts and persists one corpus. Jobs run one at a time and
// each gets a private tag registry.
func (w *Worker) runJob(ctx context.Context, req *jobRequest) (*JobResponse, error) {
	w.jobMu.Lock()
	defer w.jobMu.Unlock()

	start := time.Now()
	job := &jobState{
		ID:      uuid.NewString(),
		Ratios:  req.Ratios,
		Dynamic: req.Dynamic,
	}
	logger := w.log.With().Str("job_id", job.ID).Logger()

	if !utf8.Valid(req.Content) {
		return nil, errors.New("corpus is not valid UTF-8")
	}

	mapping, source, err := w.resolveTagMapping(req.CustomMap)
	if err != nil {
		return nil, err
	}
	job.MappingSource = source

	reg := conll.NewRegistry()
	if err := reg.Seed(mapping); err != nil {
		if source != mappingFromRequest {
			return nil, fmt.Errorf("tag mapping from %s: %v", source, err)
		}
		return nil, err
	}

	groups, err := conll.Split(string(req.Content), req.Ratios, w.newRand())
	if err != nil {
		return nil, err
	}

	dir, err := allocateOutputDir(w.config.DataDir, req.FolderName, w.now())
	if err != nil {
		return nil, err
	}
	job.Dir = dir
	job.FileName = secureFilename(req.FileName)
	if job.FileName == "" {
		job.FileName = uploadFallback
	}

	logger.Info().
		Str("output_dir", dir).
		Str("file", job.FileName).
		Str("ratios", req.Ratios.String()).
		Str("mapping_source", source).
		Bool("dynamic_tags", req.Dynamic).
		Msg("Processing corpus")

	if w.db != nil {
		if err := w.createJobRecord(ctx, job); err != nil {
			return nil, err
		}
	}

	resp, err := w.processGroups(ctx, job, req, reg, groups)
	if err != nil {
		if w.db != nil {
			w.failJobRecord(job.ID, err)
		}
		return nil, err
	}

	jobDuration.Observe(time.Since(start).Seconds())
	logger.Info().
		Int("splits", len(groups)).
		Int("unique_tags", reg.Len()).
		Dur("duration", time.Since(start)).
		Msg("Corpus processed")

	return resp, nil
}

func (w *Worker) processGroups(ctx context.Context, job *jobState, req *jobRequest, reg *conll.Registry, groups []conll.Group) (*JobResponse, error) {
	conllDir := filepath.Join(job.Dir, conllSubdir)

	err := writeFile(filepath.Join(conllDir, job.FileName), func(wr io.Writer) error {
		_, err := wr.Write(req.Content)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	files := make([]FileCount, 0, len(groups))
	for _, g := range groups {
		text := g.Text()
		err := writeFile(filepath.Join(conllDir, g.FileName()), func(wr io.Writer) error {
			_, err := io.WriteString(wr, text)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("write split: %w", err)
		}
		files = append(files, FileCount{File: g.FileName(), Blocks: g.BlockCount()})
	}

	conv := conll.NewConverter(reg, req.Dynamic)
	conv.Format.NormalizeNFC = w.config.NormalizeUnicode

	splits := make([]splitResult, 0, len(groups))
	results := make(map[string]conll.Summary, len(groups))
	var newTags []string
	for _, g := range groups {
		records, summary, err := conv.Convert(g.Text())
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", g.Name, err)
		}

		jsonName := strings.TrimSuffix(g.FileName(), ".conll") + ".json"
		err = writeFile(filepath.Join(job.Dir, jsonName), func(wr io.Writer) error {
			return conll.WriteRecords(wr, records)
		})
		if err != nil {
			return nil, err
		}

		splits = append(splits, splitResult{Group: g, Records: records, Summary: summary})
		results[g.FileName()] = summary
		newTags = append(newTags, summary.NewEntities...)

		sentencesTotal.WithLabelValues(g.Name).Add(float64(summary.SentencesProcessed))
		newTagsTotal.Add(float64(len(summary.NewEntities)))
	}

	if err := w.writeTagArtifacts(job.Dir, reg, splits); err != nil {
		return nil, err
	}

	if w.db != nil {
		if err := w.storeRecords(ctx, job.ID, splits); err != nil {
			return nil, err
		}
	}

	if w.s3Client != nil {
		prefix, err := w.uploadArtifacts(ctx, job.ID, job.Dir)
		if err != nil {
			return nil, fmt.Errorf("upload artifacts: %w", err)
		}
		job.S3Prefix = prefix
	}

	if w.db != nil {
		if err := w.completeJobRecord(ctx, job, reg, results, newTags); err != nil {
			return nil, err
		}
	}

	ratios := job.Ratios
	return &JobResponse{
		Message:         "Processing completed successfully",
		JobID:           job.ID,
		OutputDirectory: job.Dir,
		S3Prefix:        job.S3Prefix,
		ProcessingInfo: ProcessingInfo{
			MappingSource: job.MappingSource,
			Steps: []ProcessingStep{
				{Action: "split", FilesCreated: files, Ratios: &ratios},
				{Action: "convert_to_json", Results: results},
			},
		},
	}, nil
}

// writeTagArtifacts writes the final tag table in every format consumers read.
func (w *Worker) writeTagArtifacts(dir string, reg *conll.Registry, splits []splitResult) error {
	err := writeFile(filepath.Join(dir, tagTableFile), func(wr io.Writer) error {
		return conll.WriteTagTable(wr, reg)
	})
	if err != nil {
		return err
	}

	err = writeFile(filepath.Join(dir, id2LabelFile), func(wr io.Writer) error {
		enc := json.NewEncoder(wr)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"id2label": reg.ID2Label(),
			"label2id": reg.Label2ID(),
		})
	})
	if err != nil {
		return err
	}

	if err := writeTagReport(filepath.Join(dir, reportFile), reg, splits); err != nil {
		return fmt.Errorf("write tag report: %w", err)
	}
	return nil
}
