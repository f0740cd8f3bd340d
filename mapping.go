package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goldfish-inc/oceanid/apps/conll-ingestion-worker/conll"
)

// Mapping sources reported in job responses.
const (
	mappingFromRequest = "request"
	mappingFromFile    = "file"
	mappingFromModel   = "model"
	mappingNone        = "none"
)

// modelConfig is the part of a Hugging Face config.json we read.
type modelConfig struct {
	ID2Label map[string]string `json:"id2label"`
}

// resolveTagMapping picks the seed table for a job: the request's custom map,
// then TAG_MAPPING_FILE, then the newest model under MODELS_DIR.
func (w *Worker) resolveTagMapping(custom map[int]string) (map[int]string, string, error) {
	if custom != nil {
		return custom, mappingFromRequest, nil
	}

	if w.config.TagMappingFile != "" {
		mapping, err := loadMappingFile(w.config.TagMappingFile)
		if err != nil {
			return nil, "", err
		}
		return mapping, mappingFromFile, nil
	}

	mapping, model, err := latestModelMapping(w.config.ModelsDir)
	if err != nil {
		return nil, "", err
	}
	if model == "" {
		return map[int]string{}, mappingNone, nil
	}
	return mapping, mappingFromModel + ":" + model, nil
}

// loadMappingFile reads a JSON or YAML id -> tag table. Both a flat
// {"0": "O"} object and a model config with an id2label key are accepted.
func loadMappingFile(path string) (map[int]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tag mapping: %w", err)
	}

	var mapping map[int]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		mapping, err = parseYAMLMapping(data)
	default:
		mapping, err = parseJSONMapping(data)
	}
	if err != nil {
		// A broken file on the server is not the client's fault.
		return nil, fmt.Errorf("tag mapping %s: %v", path, err)
	}
	return mapping, nil
}

func parseJSONMapping(data []byte) (map[int]string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if raw, ok := doc["id2label"]; ok {
		return conll.ParseMapping(raw)
	}
	return conll.ParseMapping(data)
}

func parseYAMLMapping(data []byte) (map[int]string, error) {
	var doc struct {
		ID2Label map[interface{}]string `yaml:"id2label"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	raw := doc.ID2Label
	if raw == nil {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}

	stringKeys := make(map[string]string, len(raw))
	for k, v := range raw {
		stringKeys[fmt.Sprint(k)] = v
	}
	return conll.MappingFromStrings(stringKeys)
}

// latestModelMapping returns the id2label table of the lexically greatest
// model directory that has one. model is "" when none does.
func latestModelMapping(modelsDir string) (mapping map[int]string, model string, err error) {
	entries, err := os.ReadDir(modelsDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("list models dir: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))

	for _, dir := range dirs {
		data, err := os.ReadFile(filepath.Join(modelsDir, dir, "config.json"))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("read model config: %w", err)
		}

		var cfg modelConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, "", fmt.Errorf("model %s config.json: %v", dir, err)
		}
		if len(cfg.ID2Label) == 0 {
			continue
		}
		mapping, err := conll.MappingFromStrings(cfg.ID2Label)
		if err != nil {
			return nil, "", fmt.Errorf("model %s id2label: %v", dir, err)
		}
		return mapping, dir, nil
	}
	return nil, "", nil
}
