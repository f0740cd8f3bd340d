package conll

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseMapping decodes a JSON object of integer-keyed tags, e.g. {"0":"O","1":"B-PER"}.
func ParseMapping(data []byte) (map[int]string, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, configErrorf(ErrMalformedMapping, "%v", err)
	}
	return MappingFromStrings(raw)
}

// MappingFromStrings converts string keys to ids.
func MappingFromStrings(raw map[string]string) (map[int]string, error) {
	mapping := make(map[int]string, len(raw))
	for key, tag := range raw {
		id, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, configErrorf(ErrMalformedMapping, "key %q is not an integer", key)
		}
		mapping[id] = tag
	}
	return mapping, nil
}

// WriteTagTable writes the registry as a Python-importable tag table:
//
//	tag_mapping = {
//	    0: 'B-PER',
//	}
func WriteTagTable(w io.Writer, reg *Registry) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "tag_mapping = {")
	for _, e := range reg.Snapshot() {
		fmt.Fprintf(bw, "    %d: %s,\n", e.ID, pyQuote(e.Tag))
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

// pyQuote renders s the way Python's repr renders a str.
func pyQuote(s string) string {
	quote := byte('\'')
	if strings.Contains(s, "'") && !strings.Contains(s, `"`) {
		quote = '"'
	}

	var b strings.Builder
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == '\\':
			b.WriteString(`\\`)
		case r == rune(quote):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}
