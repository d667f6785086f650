package ppr

import (
	"context"
	"strings"

	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/store"
)

// ExpandSeeds resolves query terms to seed entities in three tiers: exact
// name match, then substring match, then token overlap against all entity
// names. Resolution stops at the first tier that yields any seed; later,
// looser tiers never run once an earlier one matched. No match across all
// tiers yields an empty result; callers fall back to vector-only retrieval.
func ExpandSeeds(ctx context.Context, st store.GraphStorage, tenantID string, terms []string) ([]common.Entity, error) {
	terms = store.DedupeStrings(terms)
	if len(terms) == 0 {
		return nil, nil
	}

	var seeds []common.Entity
	seen := make(map[string]struct{})
	add := func(entities []common.Entity) {
		for _, e := range entities {
			if _, ok := seen[e.ID]; ok {
				continue
			}
			seen[e.ID] = struct{}{}
			seeds = append(seeds, e)
		}
	}

	exact, err := st.GetEntitiesByNames(ctx, tenantID, terms)
	if err != nil {
		return nil, err
	}
	add(exact)
	if len(seeds) > 0 {
		return seeds, nil
	}

	for _, term := range terms {
		partial, err := st.FindEntitiesBySubstring(ctx, tenantID, term, 5)
		if err != nil {
			return nil, err
		}
		add(partial)
	}
	if len(seeds) > 0 {
		return seeds, nil
	}

	names, err := st.GetEntityNames(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var fuzzy []string
	for _, name := range names {
		for _, term := range terms {
			if tokenOverlap(name, term) {
				fuzzy = append(fuzzy, name)
				break
			}
		}
	}
	if len(fuzzy) == 0 {
		return nil, nil
	}
	overlapped, err := st.GetEntitiesByNames(ctx, tenantID, fuzzy)
	if err != nil {
		return nil, err
	}
	add(overlapped)

	return seeds, nil
}

// tokenOverlap reports whether an entity name and a term share at least one
// token of four or more characters.
func tokenOverlap(name, term string) bool {
	nameTokens := tokenize(name)
	for t := range tokenize(term) {
		if len(t) < 4 {
			continue
		}
		if _, ok := nameTokens[t]; ok {
			return true
		}
	}
	return false
}

func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, t := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		tokens[t] = struct{}{}
	}
	return tokens
}
