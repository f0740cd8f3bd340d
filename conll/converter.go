package conll

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Record is one converted sentence, in the Hugging Face token-classification layout.
type Record struct {
	ID     string   `json:"id"`
	Tokens []string `json:"tokens"`
	TagIDs []int    `json:"ner_tags"`
}

// Summary describes one conversion run.
type Summary struct {
	SentencesProcessed int            `json:"sentences_processed"`
	UniqueTags         int            `json:"unique_tags"`
	TagCounts          map[string]int `json:"tag_counts"`
	NewEntities        []string       `json:"new_entities"`
}

// Converter turns segmented sentences into records, resolving tags through a
// shared Registry. Converting several splits with one Converter is fine as long
// as it happens in a fixed order.
type Converter struct {
	Registry *Registry
	// Dynamic registers unknown tags instead of falling back to FallbackTag.
	Dynamic bool
	Format  Format
}

// NewConverter returns a converter over reg using DefaultFormat.
func NewConverter(reg *Registry, dynamic bool) *Converter {
	return &Converter{Registry: reg, Dynamic: dynamic, Format: DefaultFormat}
}

// Convert segments text and converts every sentence. Record ids restart at "0".
func (c *Converter) Convert(text string) ([]Record, Summary, error) {
	return c.ConvertSentences(c.Format.Segment(text))
}

// ConvertSentences converts already segmented sentences.
func (c *Converter) ConvertSentences(sentences []Sentence) ([]Record, Summary, error) {
	records := make([]Record, 0, len(sentences))
	counts := make(map[string]int)
	discovered := make(map[string]struct{})

	for i, sentence := range sentences {
		rec := Record{
			ID:     strconv.Itoa(i),
			Tokens: make([]string, 0, sentence.Len()),
			TagIDs: make([]int, 0, sentence.Len()),
		}
		for j, token := range sentence.Tokens {
			tag := sentence.Tags[j]
			id, err := c.resolve(tag, discovered)
			if err != nil {
				return nil, Summary{}, fmt.Errorf("sentence %d token %q: %w", i, token, err)
			}
			rec.Tokens = append(rec.Tokens, token)
			rec.TagIDs = append(rec.TagIDs, id)
			counts[tag]++
		}
		records = append(records, rec)
	}

	newEntities := make([]string, 0, len(discovered))
	for tag := range discovered {
		newEntities = append(newEntities, tag)
	}
	sort.Strings(newEntities)

	return records, Summary{
		SentencesProcessed: len(records),
		UniqueTags:         c.Registry.Len(),
		TagCounts:          counts,
		NewEntities:        newEntities,
	}, nil
}

func (c *Converter) resolve(tag string, discovered map[string]struct{}) (int, error) {
	if id, ok := c.Registry.Lookup(tag); ok {
		return id, nil
	}
	if c.Dynamic {
		discovered[tag] = struct{}{}
		return c.Registry.Register(tag), nil
	}
	if id, ok := c.Registry.Lookup(FallbackTag); ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %q (needed for %q)", ErrFallbackUnregistered, FallbackTag, tag)
}

// DecodeTags maps a record's tag ids back to tags using reg.
func DecodeTags(rec Record, reg *Registry) ([]string, error) {
	tags := make([]string, len(rec.TagIDs))
	for i, id := range rec.TagIDs {
		tag, ok := reg.Tag(id)
		if !ok {
			return nil, fmt.Errorf("record %s: unknown tag id %d", rec.ID, id)
		}
		tags[i] = tag
	}
	return tags, nil
}

// WriteRecords writes records as JSON lines, one compact object per line,
// without HTML escaping so tokens stay verbatim.
func WriteRecords(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
	}
	return bw.Flush()
}

// ReadRecords parses JSON lines written by WriteRecords.
func ReadRecords(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	var records []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err == io.EOF {
			return records, nil
		} else if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(records), err)
		}
		records = append(records, rec)
	}
}
