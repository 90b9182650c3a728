// Package search implements the inverted-index search projection: a pure
// read/write pattern over the UCG Store's Performance Cache layer, with no
// storage of its own.
package search

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ucgraph/core/internal/ucg"
)

// WordPosition pairs a token with its position in an entity's tokenised
// searchable text.
type WordPosition struct {
	Word     string
	Position int
}

// Index is the Search Index component (SRCH). hotLog is a dedicated
// zero-allocation logger kept distinct from the ambient logrus logger so
// the tokenizer/ranking hot path never pays logrus's allocation cost.
type Index struct {
	pc         ucg.PerformanceCache
	stopwords  map[string]bool
	minTokenLen int
	hotLog     zerolog.Logger
}

// New builds an Index over pc with the given stopwords and minimum token
// length (non-positive means 2). The Config Store bundle's Stopwords are not
// passed in automatically: cmd/ucgcore builds its Index with no stopwords,
// and a config reload does not change an existing Index's stopwords.
func New(pc ucg.PerformanceCache, stopwords []string, minTokenLen int, hotLog zerolog.Logger) *Index {
	sw := make(map[string]bool, len(stopwords))
	for _, w := range stopwords {
		sw[strings.ToLower(w)] = true
	}
	if minTokenLen <= 0 {
		minTokenLen = 2
	}
	return &Index{pc: pc, stopwords: sw, minTokenLen: minTokenLen, hotLog: hotLog}
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Tokenize splits on non-alphanumerics, folds to lowercase, drops stopwords
// and short tokens, and preserves order for position scoring.
func (ix *Index) Tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := nonAlnum.Split(lower, -1)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if tok == "" || len(tok) < ix.minTokenLen || ix.stopwords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func wordSetKey(word string) string   { return "word:" + word }
func entityWordsKey(id string) string { return "entity:" + id + ":words" }

const allWordsKey = "search:all-words"

// AllWordKeys returns the word:* key for every word ever indexed, letting a
// scheduler (internal/search.Scheduler) drive OrphanCleanup without needing
// to enumerate PC directly (the cache interface has no key-listing
// operation).
func (ix *Index) AllWordKeys(ctx context.Context) ([]string, error) {
	words, err := ix.readSet(ctx, allWordsKey)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(words))
	for w := range words {
		keys = append(keys, wordSetKey(w))
	}
	sort.Strings(keys)
	return keys, nil
}

// IndexEntity clears e's prior (word, position) sequence, re-tokenises the
// given searchable field values, and inserts fresh membership rows. It
// implements ucg.SearchIndexer.
func (ix *Index) IndexEntity(ctx context.Context, entityID, entityType string, searchableText map[string]string) error {
	start := time.Now()
	if err := ix.RemoveEntity(ctx, entityID); err != nil {
		return err
	}

	var positions []WordPosition
	pos := 0
	// deterministic field order keeps tokenisation/ranking reproducible (P7-adjacent determinism for search).
	fieldNames := make([]string, 0, len(searchableText))
	for f := range searchableText {
		fieldNames = append(fieldNames, f)
	}
	sort.Strings(fieldNames)
	for _, f := range fieldNames {
		for _, tok := range ix.Tokenize(searchableText[f]) {
			positions = append(positions, WordPosition{Word: tok, Position: pos})
			pos++
		}
	}

	wordsAffected := map[string]bool{}
	for _, wp := range positions {
		wordsAffected[wp.Word] = true
	}
	for word := range wordsAffected {
		if err := ix.addToSet(ctx, wordSetKey(word), entityID); err != nil {
			return err
		}
		if err := ix.addToSet(ctx, allWordsKey, word); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(positions)
	if err != nil {
		return err
	}
	if err := ix.pc.Set(ctx, entityWordsKey(entityID), string(payload), ucg.Protected); err != nil {
		return err
	}
	ix.hotLog.Debug().Str("entity_id", entityID).Int("tokens", len(positions)).Dur("took", time.Since(start)).Msg("indexed")
	return nil
}

// RemoveEntity deletes entityID's position sequence and removes it from
// every word set it was a member of.
func (ix *Index) RemoveEntity(ctx context.Context, entityID string) error {
	raw, ok, err := ix.pc.Get(ctx, entityWordsKey(entityID))
	if err != nil {
		return err
	}
	if ok {
		var positions []WordPosition
		if jsonErr := json.Unmarshal([]byte(raw), &positions); jsonErr == nil {
			for _, wp := range positions {
				_ = ix.removeFromSet(ctx, wordSetKey(wp.Word), entityID)
			}
		}
	}
	return ix.pc.Delete(ctx, entityWordsKey(entityID))
}

func (ix *Index) readSet(ctx context.Context, key string) (map[string]bool, error) {
	raw, ok, err := ix.pc.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	set := map[string]bool{}
	if ok {
		_ = json.Unmarshal([]byte(raw), &set)
	}
	return set, nil
}

func (ix *Index) writeSet(ctx context.Context, key string, set map[string]bool) error {
	if len(set) == 0 {
		return ix.pc.Delete(ctx, key)
	}
	payload, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return ix.pc.Set(ctx, key, string(payload), ucg.Protected)
}

func (ix *Index) addToSet(ctx context.Context, key, member string) error {
	set, err := ix.readSet(ctx, key)
	if err != nil {
		return err
	}
	set[member] = true
	return ix.writeSet(ctx, key, set)
}

func (ix *Index) removeFromSet(ctx context.Context, key, member string) error {
	set, err := ix.readSet(ctx, key)
	if err != nil {
		return err
	}
	delete(set, member)
	return ix.writeSet(ctx, key, set)
}

// Candidate is one ranked search result.
type Candidate struct {
	EntityID string
	Score    float64
}

const titleRegionBonus = 1.0
const titleRegionPosition = 5
const allMatchMultiplier = 1.5

// Query runs tokenise(query), intersects word sets progressively
// (smallest set first), and ranks candidates per §4.6.
func (ix *Index) Query(ctx context.Context, queryText string, topN int) ([]Candidate, error) {
	words := ix.Tokenize(queryText)
	if len(words) == 0 {
		return nil, nil
	}

	sets := make([]map[string]bool, 0, len(words))
	for _, w := range words {
		set, err := ix.readSet(ctx, wordSetKey(w))
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	sort.Slice(sets, func(i, j int) bool { return len(sets[i]) < len(sets[j]) })

	candidateIDs := sets[0]
	for _, s := range sets[1:] {
		next := map[string]bool{}
		for id := range candidateIDs {
			if s[id] {
				next[id] = true
			}
		}
		candidateIDs = next
		if len(candidateIDs) == 0 {
			return nil, nil
		}
	}

	wordSet := map[string]bool{}
	for _, w := range words {
		wordSet[w] = true
	}

	var out []Candidate
	for id := range candidateIDs {
		raw, ok, err := ix.pc.Get(ctx, entityWordsKey(id))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var positions []WordPosition
		if jsonErr := json.Unmarshal([]byte(raw), &positions); jsonErr != nil {
			continue
		}
		score, matchedAll := rank(positions, wordSet)
		if matchedAll {
			score *= allMatchMultiplier
		}
		out = append(out, Candidate{EntityID: id, Score: score})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

// rank sums 1/(position+1) over matched query words, adding a fixed bonus
// if a match occurs before position titleRegionPosition (title region);
// matchedAll reports whether every query word was matched at least once.
func rank(positions []WordPosition, queryWords map[string]bool) (float64, bool) {
	matched := map[string]bool{}
	score := 0.0
	for _, wp := range positions {
		if !queryWords[wp.Word] {
			continue
		}
		matched[wp.Word] = true
		score += 1.0 / float64(wp.Position+1)
		if wp.Position < titleRegionPosition {
			score += titleRegionBonus
		}
	}
	return score, len(matched) == len(queryWords)
}

// OrphanCleanup scans every word set named in wordKeys and removes entries
// referencing entities absent from existing, dropping word keys that end
// up empty.
func (ix *Index) OrphanCleanup(ctx context.Context, wordKeys []string, existing func(entityID string) bool) error {
	for _, key := range wordKeys {
		set, err := ix.readSet(ctx, key)
		if err != nil {
			return err
		}
		changed := false
		for id := range set {
			if !existing(id) {
				delete(set, id)
				changed = true
			}
		}
		if changed {
			if err := ix.writeSet(ctx, key, set); err != nil {
				return err
			}
		}
	}
	return nil
}
