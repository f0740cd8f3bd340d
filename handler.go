package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goldfish-inc/oceanid/apps/conll-ingestion-worker/conll"
)

// multipart parts above this size spill to temporary files
const formMemory = 32 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func (w *Worker) handleProcess(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// Only accept POST requests
	if r.Method != http.MethodPost {
		http.Error(rw, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(rw, r.Body, w.config.MaxUploadMB<<20)

	req, err := w.parseJobRequest(r)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		w.log.Warn().Err(err).Msg("Rejected upload")
		jobsTotal.WithLabelValues("bad_request").Inc()
		writeJSON(rw, status, errorResponse{Error: err.Error()})
		return
	}
	uploadBytes.Observe(float64(len(req.Content)))

	resp, err := w.runJob(r.Context(), req)
	if err != nil {
		if conll.IsConfigError(err) {
			jobsTotal.WithLabelValues("config_error").Inc()
			writeJSON(rw, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		w.log.Error().Err(err).Str("file", req.FileName).Msg("Failed to process corpus")
		jobsTotal.WithLabelValues("failed").Inc()
		writeJSON(rw, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	jobsTotal.WithLabelValues("success").Inc()
	w.log.Debug().Str("job_id", resp.JobID).Dur("elapsed", time.Since(start)).Msg("Request completed")
	writeJSON(rw, http.StatusOK, resp)
}

// parseJobRequest reads the multipart form. Ratios and custom_map are
// validated here so a bad request never touches the filesystem.
func (w *Worker) parseJobRequest(r *http.Request) (*jobRequest, error) {
	if err := r.ParseMultipartForm(formMemory); err != nil {
		return nil, fmt.Errorf("failed to parse upload: %w", err)
	}

	req := &jobRequest{
		FolderName: r.FormValue("folder_name"),
		Ratios:     w.config.ratios,
		Dynamic:    w.config.DynamicTags,
	}

	if s := strings.TrimSpace(r.FormValue("ratios")); s != "" {
		ratios, err := conll.ParseRatios(s)
		if err != nil {
			return nil, err
		}
		req.Ratios = ratios
	}

	if s := strings.TrimSpace(r.FormValue("custom_map")); s != "" {
		mapping, err := conll.ParseMapping([]byte(s))
		if err != nil {
			return nil, err
		}
		req.CustomMap = mapping
	}

	if s := strings.TrimSpace(r.FormValue("dynamic_tags")); s != "" {
		dynamic, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("dynamic_tags: %q is not a boolean", s)
		}
		req.Dynamic = dynamic
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("no file uploaded")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	req.FileName = header.Filename
	req.Content = content

	return req, nil
}

func (w *Worker) handleHealth(rw http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":   "healthy",
		"service":  serviceName,
		"database": w.db != nil,
		"s3":       w.s3Client != nil,
	}
	if w.db != nil {
		if err := w.db.PingContext(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database_error"] = err.Error()
			writeJSON(rw, http.StatusServiceUnavailable, status)
			return
		}
	}
	writeJSON(rw, http.StatusOK, status)
}

func writeJSON(rw http.ResponseWriter, status int, body interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	enc := json.NewEncoder(rw)
	enc.SetEscapeHTML(false)
	// Headers are already sent, so an encode error can't be reported.
	_ = enc.Encode(body)
}
