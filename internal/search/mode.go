package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Franck-BRT/BlackIA-sub003/internal/store"
)

// DefaultModeCacheSize bounds the CachedSelector.
const DefaultModeCacheSize = 512

// ModeSelector decides the mode of an auto-mode query.
// Implementations must return ModeText, ModeVision or ModeHybrid.
type ModeSelector interface {
	Select(ctx context.Context, query string, filters store.Filter) (Mode, error)
}

// SelectorFunc adapts a function to ModeSelector.
type SelectorFunc func(ctx context.Context, query string, filters store.Filter) (Mode, error)

// Select calls f.
func (f SelectorFunc) Select(ctx context.Context, query string, filters store.Filter) (Mode, error) {
	return f(ctx, query, filters)
}

// Keyword vocabularies for the default selector.
var (
	visualKeywords = []string{
		"image", "photo", "picture", "diagram", "chart", "graph", "figure",
		"screenshot", "page", "scan", "slide", "table", "illustration",
	}
	textualKeywords = []string{
		"text", "paragraph", "sentence", "quote", "word", "definition",
		"summary", "summarize", "explain", "section", "chapter", "says", "mention",
	}

	wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

// KeywordSelector picks a mode from whole-word keyword matches:
//  1. no attachment filter → Hybrid
//  2. visual keyword only → Vision
//  3. textual keyword only → Text
//  4. otherwise → Hybrid
type KeywordSelector struct {
	visual  map[string]bool
	textual map[string]bool
}

// NewKeywordSelector creates the default selector.
func NewKeywordSelector() *KeywordSelector {
	return NewKeywordSelectorWith(visualKeywords, textualKeywords)
}

// NewKeywordSelectorWith creates a selector with custom vocabularies.
func NewKeywordSelectorWith(visual, textual []string) *KeywordSelector {
	s := &KeywordSelector{
		visual:  make(map[string]bool, len(visual)),
		textual: make(map[string]bool, len(textual)),
	}
	for _, w := range visual {
		s.visual[strings.ToLower(w)] = true
	}
	for _, w := range textual {
		s.textual[strings.ToLower(w)] = true
	}
	return s
}

// Select never returns an error.
func (s *KeywordSelector) Select(_ context.Context, query string, filters store.Filter) (Mode, error) {
	if !filters.HasAttachments() {
		return ModeHybrid, nil
	}

	var hasVisual, hasTextual bool
	for _, w := range wordPattern.FindAllString(strings.ToLower(query), -1) {
		hasVisual = hasVisual || s.visual[w]
		hasTextual = hasTextual || s.textual[w]
	}

	switch {
	case hasVisual && !hasTextual:
		return ModeVision, nil
	case hasTextual && !hasVisual:
		return ModeText, nil
	default:
		return ModeHybrid, nil
	}
}

// CachedSelector memoizes another selector's decisions in an LRU.
// Errors are not cached.
type CachedSelector struct {
	inner ModeSelector
	cache *lru.Cache[string, Mode]
}

// NewCachedSelector wraps inner. size <= 0 means DefaultModeCacheSize.
func NewCachedSelector(inner ModeSelector, size int) *CachedSelector {
	if size <= 0 {
		size = DefaultModeCacheSize
	}
	cache, _ := lru.New[string, Mode](size)
	return &CachedSelector{inner: inner, cache: cache}
}

// Select returns the cached decision or asks the inner selector.
func (c *CachedSelector) Select(ctx context.Context, query string, filters store.Filter) (Mode, error) {
	key := selectorKey(query, filters)
	if m, ok := c.cache.Get(key); ok {
		return m, nil
	}
	m, err := c.inner.Select(ctx, query, filters)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, m)
	return m, nil
}

// Len reports the number of cached decisions.
func (c *CachedSelector) Len() int { return c.cache.Len() }

func selectorKey(query string, f store.Filter) string {
	ids := slices.Clone(f.AttachmentIDs)
	slices.Sort(ids)
	return strings.ToLower(strings.TrimSpace(query)) + "\x00" + f.EntityType + "\x00" + f.EntityID + "\x00" + strings.Join(ids, ",")
}

// ResolveMode returns the mode to execute. An explicit mode wins. For auto,
// the selector decides; a selector error, panic or invalid answer falls
// back to Hybrid and is logged, never returned.
func ResolveMode(ctx context.Context, sel ModeSelector, requested Mode, query string, filters store.Filter, logger *slog.Logger) Mode {
	switch requested {
	case ModeText, ModeVision, ModeHybrid:
		return requested
	}
	if sel == nil {
		return ModeHybrid
	}
	if logger == nil {
		logger = slog.Default()
	}

	mode, err := safeSelect(ctx, sel, query, filters)
	if err != nil {
		logger.Warn("mode_selection_failed, using hybrid",
			slog.String("error", err.Error()))
		return ModeHybrid
	}
	switch mode {
	case ModeText, ModeVision, ModeHybrid:
		logger.Debug("mode_selected", slog.String("mode", string(mode)))
		return mode
	default:
		logger.Warn("mode_selector returned invalid mode, using hybrid",
			slog.String("mode", string(mode)))
		return ModeHybrid
	}
}

func safeSelect(ctx context.Context, sel ModeSelector, query string, filters store.Filter) (mode Mode, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mode selector panicked: %v", r)
		}
	}()
	return sel.Select(ctx, query, filters)
}
