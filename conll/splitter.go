package conll

import (
	"math"
	"strconv"
	"strings"
)

// BlockSeparator separates sentence blocks in a corpus file.
const BlockSeparator = "\n\n"

// Split group names, in the order they are produced and converted.
const (
	TrainSplit      = "train"
	ValidationSplit = "val"
	TestSplit       = "test"
)

// SplitOrder is the fixed order in which groups are emitted and converted.
// Dynamic tag ids depend on it.
var SplitOrder = []string{TrainSplit, ValidationSplit, TestSplit}

// Ratios is the train/validation/test partition. Components are fractions
// of the sentence-block count and may sum to less than 1.0.
type Ratios struct {
	Train float64 `json:"train"`
	Val   float64 `json:"val"`
	Test  float64 `json:"test"`
}

// DefaultRatios is used when a job does not specify any.
var DefaultRatios = Ratios{Train: 0.7, Val: 0.15, Test: 0.15}

// ParseRatios parses "train,val,test".
func ParseRatios(s string) (Ratios, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Ratios{}, configErrorf(ErrRatioCount, "got %d values in %q", len(parts), s)
	}

	var values [3]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return Ratios{}, configErrorf(ErrRatioValue, "%q is not a number", part)
		}
		values[i] = v
	}

	r := Ratios{Train: values[0], Val: values[1], Test: values[2]}
	if err := r.Validate(); err != nil {
		return Ratios{}, err
	}
	return r, nil
}

// Validate rejects negative or non-finite components and sums above 1.0.
func (r Ratios) Validate() error {
	for _, v := range []float64{r.Train, r.Val, r.Test} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return configErrorf(ErrRatioValue, "%v", v)
		}
	}
	if r.Train+r.Val+r.Test > 1.0 {
		return configErrorf(ErrRatioSum, "%v + %v + %v", r.Train, r.Val, r.Test)
	}
	return nil
}

func (r Ratios) String() string {
	return strconv.FormatFloat(r.Train, 'g', -1, 64) + "," +
		strconv.FormatFloat(r.Val, 'g', -1, 64) + "," +
		strconv.FormatFloat(r.Test, 'g', -1, 64)
}

// Shuffler permutes n elements in place. *math/rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// Group is one non-empty split output.
type Group struct {
	Name string
	// Marker is the detached document-boundary block, or "".
	Marker string
	// Blocks are the sentence blocks, verbatim from the source.
	Blocks []string
}

// FileName is the name the group is persisted under.
func (g Group) FileName() string { return g.Name + ".conll" }

// BlockCount counts the blocks written to the file, marker included.
func (g Group) BlockCount() int {
	if g.Marker != "" {
		return len(g.Blocks) + 1
	}
	return len(g.Blocks)
}

// Text is the serialised group: blocks joined by BlockSeparator, newline-terminated.
func (g Group) Text() string {
	blocks := g.Blocks
	if g.Marker != "" {
		blocks = append([]string{g.Marker}, g.Blocks...)
	}
	return strings.Join(blocks, BlockSeparator) + "\n"
}

// Blocks cuts corpus text into sentence blocks and detaches a leading
// DocStart block.
func Blocks(text string) (marker string, blocks []string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	blocks = strings.Split(text, BlockSeparator)
	if strings.HasPrefix(blocks[0], DocStart) {
		return blocks[0], blocks[1:]
	}
	return "", blocks
}

// Split partitions the corpus into train/val/test groups. Ratios are checked
// before anything is shuffled. Only non-empty groups are returned, in SplitOrder.
func Split(text string, ratios Ratios, rng Shuffler) ([]Group, error) {
	if err := ratios.Validate(); err != nil {
		return nil, err
	}

	marker, blocks := Blocks(text)
	rng.Shuffle(len(blocks), func(i, j int) { blocks[i], blocks[j] = blocks[j], blocks[i] })

	total := len(blocks)
	trainEnd := int(math.Floor(float64(total) * ratios.Train))
	valEnd := trainEnd + int(math.Floor(float64(total)*ratios.Val))
	trainEnd, valEnd = min(trainEnd, total), min(valEnd, total)

	var parts [3][]string
	if ratios.Train > 0 {
		parts[0] = blocks[:trainEnd]
	}
	if ratios.Val > 0 {
		parts[1] = blocks[trainEnd:valEnd]
	}
	if ratios.Test > 0 {
		parts[2] = blocks[valEnd:]
	}

	var groups []Group
	for i, name := range SplitOrder {
		if len(parts[i]) == 0 {
			continue
		}
		groups = append(groups, Group{Name: name, Marker: marker, Blocks: parts[i]})
	}
	return groups, nil
}
