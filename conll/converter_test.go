package conll

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aliceCorpus = "Alice NNP B-NP B-PER\nloves VBZ B-VP O\nBob NNP B-NP B-PER\n\nNo DT B-NP O\n"

func TestConvertDiscoversTagsInFirstSeenOrder(t *testing.T) {
	reg := NewRegistry()
	records, summary, err := NewConverter(reg, true).Convert(aliceCorpus)
	require.NoError(t, err)

	assert.Equal(t, []Record{
		{ID: "0", Tokens: []string{"Alice", "loves", "Bob"}, TagIDs: []int{0, 1, 0}},
		{ID: "1", Tokens: []string{"No"}, TagIDs: []int{1}},
	}, records)

	id, _ := reg.Lookup("B-PER")
	assert.Equal(t, 0, id)
	id, _ = reg.Lookup("O")
	assert.Equal(t, 1, id)

	assert.Equal(t, 2, summary.SentencesProcessed)
	assert.Equal(t, 2, summary.UniqueTags)
	assert.Equal(t, map[string]int{"B-PER": 2, "O": 2}, summary.TagCounts)
	assert.ElementsMatch(t, []string{"B-PER", "O"}, summary.NewEntities)
}

func TestConvertTwoColumnCorpus(t *testing.T) {
	conv := NewConverter(NewRegistry(), true)
	conv.Format = TwoColumnFormat

	records, summary, err := conv.Convert("Alice B-PER\nloves O\nBob B-PER\n\nNo O\n")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []int{0, 1, 0}, records[0].TagIDs)
	assert.Equal(t, []int{1}, records[1].TagIDs)
	assert.ElementsMatch(t, []string{"B-PER", "O"}, summary.NewEntities)
}

func TestConvertFallsBackWhenDynamicDisabled(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Seed(map[int]string{0: "O", 1: "B-PER"}))

	records, summary, err := NewConverter(reg, false).Convert("Bonn NNP B-NP B-LOC\nsays VBZ B-VP O\nKohl NNP B-NP B-PER\n")
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, []int{0, 0, 1}, records[0].TagIDs)
	assert.Equal(t, map[string]int{"B-LOC": 1, "O": 1, "B-PER": 1}, summary.TagCounts)
	assert.Empty(t, summary.NewEntities)
	assert.Equal(t, 2, reg.Len(), "fallback must not grow the registry")
}

func TestConvertFailsWithoutFallbackTag(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Seed(map[int]string{0: "B-PER"}))

	_, _, err := NewConverter(reg, false).Convert("Bonn NNP B-NP B-LOC\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFallbackUnregistered))
}

func TestConvertSharesRegistryAcrossSplits(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Seed(map[int]string{0: "O"}))
	conv := NewConverter(reg, true)

	_, train, err := conv.Convert("Rome NNP B-NP B-LOC\n")
	require.NoError(t, err)
	_, val, err := conv.Convert("Rome NNP B-NP B-LOC\nFIAT NNP B-NP B-ORG\n")
	require.NoError(t, err)
	records, test, err := conv.Convert("FIAT NNP B-NP B-ORG\nand CC O O\n")
	require.NoError(t, err)

	assert.Equal(t, []string{"B-LOC"}, train.NewEntities)
	assert.Equal(t, []string{"B-ORG"}, val.NewEntities)
	assert.Empty(t, test.NewEntities)
	assert.Equal(t, []int{2, 0}, records[0].TagIDs)
	assert.Equal(t, 3, test.UniqueTags)
	assert.Equal(t, "0", records[0].ID, "record ids restart per split")
}

func TestDecodeTagsRoundTrip(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Seed(map[int]string{0: "O", 1: "B-PER"}))

	text := "Alice NNP B-NP B-PER\nin IN B-PP O\nWonderland NNP B-NP B-LOC\n\nBob NNP B-NP B-PER\n"
	sentences := Segment(text)

	t.Run("dynamic", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Seed(map[int]string{0: "O", 1: "B-PER"}))
		records, _, err := NewConverter(r, true).ConvertSentences(sentences)
		require.NoError(t, err)
		for i, rec := range records {
			tags, err := DecodeTags(rec, r)
			require.NoError(t, err)
			assert.Equal(t, sentences[i].Tags, tags)
		}
	})

	t.Run("fallback", func(t *testing.T) {
		records, _, err := NewConverter(reg, false).ConvertSentences(sentences)
		require.NoError(t, err)
		tags, err := DecodeTags(records[0], reg)
		require.NoError(t, err)
		assert.Equal(t, []string{"B-PER", "O", "O"}, tags)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := DecodeTags(Record{ID: "9", TagIDs: []int{42}}, reg)
		assert.Error(t, err)
	})
}

func TestWriteRecordsLayout(t *testing.T) {
	records := []Record{
		{ID: "0", Tokens: []string{"Alice", "loves", "Bob"}, TagIDs: []int{0, 1, 0}},
		{ID: "1", Tokens: []string{"<b>", "São", "&"}, TagIDs: []int{1, 1, 1}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRecords(&buf, records))
	assert.Equal(t,
		`{"id":"0","tokens":["Alice","loves","Bob"],"ner_tags":[0,1,0]}`+"\n"+
			`{"id":"1","tokens":["<b>","São","&"],"ner_tags":[1,1,1]}`+"\n",
		buf.String())

	back, err := ReadRecords(&buf)
	require.NoError(t, err)
	assert.Equal(t, records, back)
}
