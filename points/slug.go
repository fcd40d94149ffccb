package points

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/gosimple/slug"
)

// SlugStore answers whether a slug is taken by another business.
type SlugStore interface {
	SlugExists(ctx context.Context, slug string, exclude BusinessID) (bool, error)
}

const maxSlugSuffix = 1000

// MakeSlug derives the URL-safe slug of a business name.
// Lowercased, transliterated, runs of other characters collapsed to '-'.
// Symbols are separators, never words: "Tom & Jerry" is "tom-jerry".
func MakeSlug(name string) string {
	s := slug.Make(strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return r
		}
		return ' '
	}, name))
	if s == "" {
		return "business"
	}
	return s
}

// UniqueSlug returns MakeSlug(name), or the first free "<slug>-N" (N >= 2).
// exclude lets a business keep its own slug when regenerating.
func UniqueSlug(ctx context.Context, store SlugStore, name string, exclude BusinessID) (string, error) {
	base := MakeSlug(name)
	candidate := base
	for n := 2; n <= maxSlugSuffix; n++ {
		taken, err := store.SlugExists(ctx, candidate, exclude)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return "", fmt.Errorf("%w: no free slug for %q", ErrDuplicateSlug, base)
}
