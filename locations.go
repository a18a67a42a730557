package main

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// LocationMapping ties a canonical location id to its display name and the
// lower-cased phrases that should resolve to it.
type LocationMapping struct {
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"display_name"`
	Keywords    []string `yaml:"keywords"`
}

type locationNicknameFile struct {
	Locations []LocationMapping `yaml:"locations"`
}

// Static bootstrap nicknames. Live display names overwrite these at
// Initialize time; keywords are additive.
var bootstrapMappings = []LocationMapping{
	{ID: "main", DisplayName: "Main Location", Keywords: []string{"main", "hq", "headquarters", "main location", "flagship"}},
}

// LocationResolver maps natural-language location references to canonical
// ids. The keyword table is built once and read-only afterward; concurrent
// readers need no locking.
type LocationResolver struct {
	nicknamePath string
	once         sync.Once
	byID         map[string]*LocationMapping
}

func NewLocationResolver(nicknamePath string) *LocationResolver {
	return &LocationResolver{
		nicknamePath: nicknamePath,
		byID:         make(map[string]*LocationMapping),
	}
}

// Initialize builds the keyword table from the static bootstrap entries, the
// optional nickname file, and persisted location records. Idempotent: only
// the first call has any effect, later calls (including concurrent first
// requests) are no-ops.
func (r *LocationResolver) Initialize(records []Location) {
	r.once.Do(func() {
		for _, m := range bootstrapMappings {
			r.addMapping(m)
		}
		if r.nicknamePath != "" {
			nicknames, err := loadLocationNicknames(r.nicknamePath)
			if err != nil {
				log.Printf("location nickname file skipped path=%s err=%v", r.nicknamePath, err)
			}
			for _, m := range nicknames {
				r.addMapping(m)
			}
		}
		for _, rec := range records {
			r.addMapping(LocationMapping{
				ID:          rec.ID,
				DisplayName: rec.Name,
				Keywords:    keywordsFromName(rec.Name),
			})
		}
		log.Printf("location resolver initialized locations=%d", len(r.byID))
	})
}

func (r *LocationResolver) addMapping(m LocationMapping) {
	id := strings.TrimSpace(m.ID)
	if id == "" {
		return
	}
	existing, ok := r.byID[id]
	if !ok {
		existing = &LocationMapping{ID: id}
		r.byID[id] = existing
	}
	if m.DisplayName != "" {
		existing.DisplayName = m.DisplayName
	}
	seen := make(map[string]bool, len(existing.Keywords))
	for _, kw := range existing.Keywords {
		seen[kw] = true
	}
	for _, kw := range m.Keywords {
		kw = normalizeTextToken(kw)
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		existing.Keywords = append(existing.Keywords, kw)
	}
}

// ResolveLocations returns the ids of every location whose keywords appear in
// the utterance. Matching is substring-based and case-insensitive; the result
// is sorted so resolution is order-independent.
func (r *LocationResolver) ResolveLocations(utterance string) []string {
	lowered := strings.ToLower(utterance)
	matched := make(map[string]bool)
	for id, m := range r.byID {
		for _, kw := range m.Keywords {
			if strings.Contains(lowered, kw) {
				matched[id] = true
				break
			}
		}
	}
	if len(matched) == 0 {
		return nil
	}
	return sortedStrings(matched)
}

// HasLocationFilter reports whether the utterance references any known location.
func (r *LocationResolver) HasLocationFilter(utterance string) bool {
	return len(r.ResolveLocations(utterance)) > 0
}

// DisplayName returns the human-readable name for a canonical id, or the id
// itself when unknown.
func (r *LocationResolver) DisplayName(id string) string {
	if m, ok := r.byID[id]; ok && m.DisplayName != "" {
		return m.DisplayName
	}
	return id
}

// Mappings returns the known mappings sorted by id, for diagnostics.
func (r *LocationResolver) Mappings() []LocationMapping {
	out := make([]LocationMapping, 0, len(r.byID))
	for _, m := range r.byID {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func loadLocationNicknames(path string) ([]LocationMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read nickname file: %w", err)
	}
	var f locationNicknameFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse nickname yaml: %w", err)
	}
	return f.Locations, nil
}

// Generic venue words that appear in many display names and would match
// nearly every utterance under substring matching.
var genericNameWords = map[string]bool{
	"location": true,
	"store":    true,
	"shop":     true,
	"branch":   true,
}

// keywordsFromName derives keywords from a display name: the full lower-cased
// name plus its distinctive words. Substring matching means short connective
// words would over-match, so only non-generic words of 4+ letters qualify.
func keywordsFromName(name string) []string {
	full := normalizeTextToken(name)
	if full == "" {
		return nil
	}
	keywords := []string{full}
	for _, word := range strings.Fields(full) {
		word = strings.Trim(word, ".,&-")
		if len(word) >= 4 && word != full && !genericNameWords[word] {
			keywords = append(keywords, word)
		}
	}
	return keywords
}

func normalizeTextToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
