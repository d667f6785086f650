package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tesselab/ariadne/internal/util"
	"github.com/tesselab/ariadne/pkg/ai"
	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/logger"
)

// recallWidening is how many extra candidates a detected query family adds
// to a retrieval pool before re-ranking.
const recallWidening = 2

// Detector recognizes one family of high-stakes queries and the concrete
// anchor values answers about them must preserve. Detectors are pluggable;
// the built-in set covers money amounts, day counts, and dates.
type Detector interface {
	Name() string
	// DetectQuery reports whether the query belongs to this family.
	DetectQuery(query string) bool
	// ExtractAnchors returns the anchor values present in a text.
	ExtractAnchors(text string) []string
}

type regexDetector struct {
	name    string
	query   *regexp.Regexp
	anchors *regexp.Regexp
}

func (d *regexDetector) Name() string { return d.name }

func (d *regexDetector) DetectQuery(query string) bool {
	return d.query.MatchString(strings.ToLower(query))
}

func (d *regexDetector) ExtractAnchors(text string) []string {
	var anchors []string
	seen := make(map[string]struct{})
	for _, m := range d.anchors.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		key := normalizeAnchor(m)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		anchors = append(anchors, m)
	}
	return anchors
}

// DefaultDetectors returns the built-in detector set.
func DefaultDetectors() []Detector {
	return []Detector{
		&regexDetector{
			name:    "money",
			query:   regexp.MustCompile(`\b(cost|price|fee|penalty|amount|pay|paid|payment|charge|worth)\b|[$€£]`),
			anchors: regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d+)?|\b\d[\d,]*(?:\.\d+)?\s?(?:USD|EUR|GBP|dollars?|euros?|pounds?)\b`),
		},
		&regexDetector{
			name:    "day-count",
			query:   regexp.MustCompile(`\b(deadline|notice|period|within|due|terminate|termination|expiry|expire)\b`),
			anchors: regexp.MustCompile(`\b\d+\s?(?:business\s|calendar\s|working\s)?(?:days?|weeks?|months?|years?)\b`),
		},
		&regexDetector{
			name:    "date",
			query:   regexp.MustCompile(`\b(when|date|effective|start|end|until|by)\b`),
			anchors: regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s\d{1,2},?\s\d{4}\b|\b\d{1,2}/\d{1,2}/\d{4}\b`),
		},
	}
}

// Booster is the guardrail layer over generated answers. It widens recall
// for detected query families and enforces that anchor values present in the
// used evidence survive into the answer, via at most one constrained rewrite.
type Booster struct {
	client    ai.LanguageModel
	detectors []Detector
}

func NewBooster(client ai.LanguageModel, detectors ...Detector) *Booster {
	return &Booster{client: client, detectors: detectors}
}

// Detects reports whether any detector claims the query.
func (b *Booster) Detects(query string) bool {
	if b == nil {
		return false
	}
	for _, d := range b.detectors {
		if d.DetectQuery(query) {
			return true
		}
	}
	return false
}

// EnsureCompleteness checks the answer against anchors from its evidence and
// applies one constrained rewrite when anchors are missing. The rewrite is
// verified: any anchor it introduces must exist in the evidence, otherwise
// the original answer is kept and marked low-confidence.
func (b *Booster) EnsureCompleteness(ctx context.Context, answer common.Answer, items []evidence) common.Answer {
	if b == nil || len(items) == 0 || answer.Answer == "" {
		return answer
	}

	used := usedEvidence(answer, items)
	if len(used) == 0 {
		return answer
	}

	var evidenceText strings.Builder
	for _, item := range used {
		evidenceText.WriteString(item.text)
		evidenceText.WriteString("\n")
	}

	evidenceAnchors := b.extractAnchors(evidenceText.String())
	if len(evidenceAnchors) == 0 {
		return answer
	}

	missing := missingAnchors(answer.Answer, evidenceAnchors)
	if len(missing) == 0 {
		return answer
	}

	rewritten, err := util.RetryWithContext(ctx, 2, func(ctx context.Context) (string, error) {
		return b.client.GenerateCompletion(ctx, fmt.Sprintf(
			ai.RewritePrompt,
			evidenceText.String(),
			answer.Answer,
			strings.Join(missing, "; "),
		))
	})
	if err != nil {
		logger.Warn("booster rewrite failed", "err", err)
		answer.Metadata["booster"] = "rewrite_failed"
		answer.Metadata["confidence"] = common.ConfidenceLow
		return answer
	}

	// Grounding invariant: the rewrite must not smuggle in anchors that the
	// evidence does not contain.
	if introduced := b.ungroundedAnchors(rewritten, evidenceText.String()); len(introduced) > 0 {
		logger.Warn("booster rewrite rejected", "ungrounded", introduced)
		answer.Metadata["booster"] = "rewrite_rejected"
		answer.Metadata["confidence"] = common.ConfidenceLow
		return answer
	}
	if still := missingAnchors(rewritten, evidenceAnchors); len(still) > 0 {
		// One rewrite only; accept what it recovered but flag the rest.
		answer.Metadata["missing_anchors"] = still
	}

	answer.Answer = rewritten
	answer.Metadata["booster"] = "rewritten"
	answer.Metadata["recovered_anchors"] = missing
	return answer
}

func (b *Booster) extractAnchors(text string) []string {
	var anchors []string
	seen := make(map[string]struct{})
	for _, d := range b.detectors {
		for _, a := range d.ExtractAnchors(text) {
			key := normalizeAnchor(a)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			anchors = append(anchors, a)
		}
	}
	return anchors
}

// ungroundedAnchors returns anchors present in the answer but absent from
// the evidence.
func (b *Booster) ungroundedAnchors(answer, evidenceText string) []string {
	normalizedEvidence := normalizeAnchorSet(b.extractAnchors(evidenceText))
	var ungrounded []string
	for _, a := range b.extractAnchors(answer) {
		if _, ok := normalizedEvidence[normalizeAnchor(a)]; !ok {
			ungrounded = append(ungrounded, a)
		}
	}
	return ungrounded
}

// usedEvidence resolves the evidence items the answer cites; when nothing is
// cited, all evidence counts as used.
func usedEvidence(answer common.Answer, items []evidence) []evidence {
	cited := citedIDs(answer.Answer)
	if len(cited) == 0 {
		return items
	}
	byID := make(map[string]evidence, len(items))
	for _, item := range items {
		byID[item.id] = item
	}
	var used []evidence
	for _, id := range cited {
		if item, ok := byID[id]; ok {
			used = append(used, item)
		}
	}
	if len(used) == 0 {
		return items
	}
	return used
}

func missingAnchors(answer string, anchors []string) []string {
	normalized := normalizeAnchor(answer)
	var missing []string
	for _, a := range anchors {
		if !strings.Contains(normalized, normalizeAnchor(a)) {
			missing = append(missing, a)
		}
	}
	return missing
}

var anchorSpacePattern = regexp.MustCompile(`\s+`)

func normalizeAnchor(s string) string {
	return anchorSpacePattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

func normalizeAnchorSet(anchors []string) map[string]struct{} {
	set := make(map[string]struct{}, len(anchors))
	for _, a := range anchors {
		set[normalizeAnchor(a)] = struct{}{}
	}
	return set
}
