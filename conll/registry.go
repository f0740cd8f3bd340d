package conll

import (
	"sort"
	"strconv"
)

// FallbackTag is substituted for unknown tags when dynamic registration is off.
const FallbackTag = "O"

// TagEntry is one row of the tag table.
type TagEntry struct {
	ID  int    `json:"id"`
	Tag string `json:"tag"`
}

// Registry maps textual tags to integer label ids and back.
// It is not safe for concurrent use; every job owns its own Registry.
type Registry struct {
	idToTag map[int]string
	tagToID map[string]int
	maxID   int
}

// NewRegistry returns an empty registry. The first registered tag gets id 0.
func NewRegistry() *Registry {
	return &Registry{
		idToTag: make(map[int]string),
		tagToID: make(map[string]int),
		maxID:   -1,
	}
}

// Seed bulk-loads an external id -> tag table. It must be called before any
// Register call. Mappings that would break the one-to-one invariant are rejected.
func (r *Registry) Seed(mapping map[int]string) error {
	ids := make([]int, 0, len(mapping))
	for id := range mapping {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		tag := mapping[id]
		if id < 0 {
			return configErrorf(ErrMalformedMapping, "negative id %d for tag %q", id, tag)
		}
		if existing, ok := r.idToTag[id]; ok && existing != tag {
			return configErrorf(ErrMalformedMapping, "id %d already bound to %q", id, existing)
		}
		if other, ok := r.tagToID[tag]; ok && other != id {
			return configErrorf(ErrMalformedMapping, "tag %q mapped to both %d and %d", tag, other, id)
		}
		r.insert(id, tag)
	}
	return nil
}

// Lookup returns the id of tag, if registered.
func (r *Registry) Lookup(tag string) (int, bool) {
	id, ok := r.tagToID[tag]
	return id, ok
}

// Tag returns the tag registered under id, if any.
func (r *Registry) Tag(id int) (string, bool) {
	tag, ok := r.idToTag[id]
	return tag, ok
}

// Register returns the id of tag, allocating max(ids)+1 when the tag is new.
// Registering the same tag twice never changes its id.
func (r *Registry) Register(tag string) int {
	if id, ok := r.tagToID[tag]; ok {
		return id
	}
	id := r.maxID + 1
	r.insert(id, tag)
	return id
}

// Len is the number of registered tags.
func (r *Registry) Len() int { return len(r.idToTag) }

// Snapshot returns the tag table sorted by id.
func (r *Registry) Snapshot() []TagEntry {
	entries := make([]TagEntry, 0, len(r.idToTag))
	for id, tag := range r.idToTag {
		entries = append(entries, TagEntry{ID: id, Tag: tag})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// ID2Label renders the table with string keys, the layout used by model
// config.json files.
func (r *Registry) ID2Label() map[string]string {
	out := make(map[string]string, len(r.idToTag))
	for id, tag := range r.idToTag {
		out[strconv.Itoa(id)] = tag
	}
	return out
}

// Label2ID is the inverse of ID2Label.
func (r *Registry) Label2ID() map[string]int {
	out := make(map[string]int, len(r.tagToID))
	for tag, id := range r.tagToID {
		out[tag] = id
	}
	return out
}

func (r *Registry) insert(id int, tag string) {
	r.idToTag[id] = tag
	r.tagToID[tag] = id
	if id > r.maxID {
		r.maxID = id
	}
}
