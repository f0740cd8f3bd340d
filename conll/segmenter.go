package conll

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DocStart marks the beginning of a document inside a corpus.
const DocStart = "-DOCSTART-"

// Sentence is a run of tokens with their parallel tags.
type Sentence struct {
	Tokens []string
	Tags   []string
}

// Len is the number of tokens in the sentence.
func (s Sentence) Len() int { return len(s.Tokens) }

// Format describes which whitespace-separated columns carry the token and tag.
type Format struct {
	TokenColumn int
	TagColumn   int
	// MinFields is the number of fields a data line needs; shorter lines are skipped.
	MinFields int
	// NormalizeNFC applies Unicode NFC normalisation to tokens.
	NormalizeNFC bool
}

// DefaultFormat is the four-column CoNLL-2003 layout: token POS chunk NER.
var DefaultFormat = Format{TokenColumn: 0, TagColumn: 3, MinFields: 4}

// TwoColumnFormat reads "token tag" corpora.
var TwoColumnFormat = Format{TokenColumn: 0, TagColumn: 1, MinFields: 2}

func (f Format) minFields() int {
	n := f.MinFields
	if f.TokenColumn+1 > n {
		n = f.TokenColumn + 1
	}
	if f.TagColumn+1 > n {
		n = f.TagColumn + 1
	}
	return n
}

// Segment parses tagged-sequence text into sentences using DefaultFormat.
func Segment(text string) []Sentence {
	return DefaultFormat.Segment(text)
}

// Segment parses tagged-sequence text into sentences. Blank lines and
// DocStart lines close the current sentence; malformed lines are ignored.
func (f Format) Segment(text string) []Sentence {
	var (
		sentences []Sentence
		current   Sentence
		need      = f.minFields()
	)

	flush := func() {
		if current.Len() > 0 {
			sentences = append(sentences, current)
			current = Sentence{}
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, DocStart) {
			flush()
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < need {
			continue
		}

		token := fields[f.TokenColumn]
		if f.NormalizeNFC {
			token = norm.NFC.String(token)
		}
		current.Tokens = append(current.Tokens, token)
		current.Tags = append(current.Tags, fields[f.TagColumn])
	}
	flush()

	return sentences
}
