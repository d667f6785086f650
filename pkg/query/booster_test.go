package query

import (
	"context"
	"reflect"
	"testing"

	"github.com/tesselab/ariadne/pkg/common"
)

func TestDetectorAnchors(t *testing.T) {
	detectors := DefaultDetectors()
	byName := make(map[string]Detector)
	for _, d := range detectors {
		byName[d.Name()] = d
	}

	tests := []struct {
		detector string
		text     string
		want     []string
	}{
		{
			detector: "money",
			text:     "The penalty is $5,000 and the fee is 200 EUR.",
			want:     []string{"$5,000", "200 EUR"},
		},
		{
			detector: "day-count",
			text:     "Notice must be given 30 days in advance, or 2 weeks for minor changes.",
			want:     []string{"30 days", "2 weeks"},
		},
		{
			detector: "date",
			text:     "Effective 2024-01-15 until March 3, 2025.",
			want:     []string{"2024-01-15", "March 3, 2025"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.detector, func(t *testing.T) {
			got := byName[tt.detector].ExtractAnchors(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectQueryFamilies(t *testing.T) {
	booster := NewBooster(&fakeClient{}, DefaultDetectors()...)

	if !booster.Detects("What is the termination notice period?") {
		t.Error("expected notice query to be detected")
	}
	if !booster.Detects("How much does early exit cost?") {
		t.Error("expected cost query to be detected")
	}
	if booster.Detects("Who are the parties involved?") {
		t.Error("did not expect a plain entity query to be detected")
	}
}

func newAnswer(text string) common.Answer {
	return common.Answer{Answer: text, Metadata: map[string]any{}}
}

func noticeEvidence() []evidence {
	return []evidence{
		{id: "ch1", text: "Termination requires 30 days written notice and a $5,000 penalty."},
	}
}

func TestEnsureCompletenessRewritesMissingAnchors(t *testing.T) {
	client := &fakeClient{
		completionFn: func(_ string) (string, error) {
			return "Termination requires 30 days notice and a $5,000 penalty [[ch1]].", nil
		},
	}
	booster := NewBooster(client, DefaultDetectors()...)

	answer := newAnswer("Termination requires advance notice [[ch1]].")
	boosted := booster.EnsureCompleteness(context.Background(), answer, noticeEvidence())

	if boosted.Metadata["booster"] != "rewritten" {
		t.Fatalf("expected rewrite, metadata: %v", boosted.Metadata)
	}
	if boosted.Answer == answer.Answer {
		t.Error("answer was not rewritten")
	}
	recovered, _ := boosted.Metadata["recovered_anchors"].([]string)
	if len(recovered) == 0 {
		t.Error("expected recovered anchors in metadata")
	}
}

func TestEnsureCompletenessRejectsUngroundedRewrite(t *testing.T) {
	client := &fakeClient{
		completionFn: func(_ string) (string, error) {
			// Rewrite invents a 45 days period absent from the evidence.
			return "Termination requires 30 days notice, extendable to 45 days, penalty $5,000.", nil
		},
	}
	booster := NewBooster(client, DefaultDetectors()...)

	original := newAnswer("Termination requires advance notice [[ch1]].")
	boosted := booster.EnsureCompleteness(context.Background(), original, noticeEvidence())

	if boosted.Answer != original.Answer {
		t.Error("ungrounded rewrite should be rejected")
	}
	if boosted.Metadata["booster"] != "rewrite_rejected" {
		t.Errorf("expected rewrite_rejected, metadata: %v", boosted.Metadata)
	}
	if boosted.Metadata["confidence"] != common.ConfidenceLow {
		t.Error("rejected rewrite should mark the answer low-confidence")
	}
}

func TestEnsureCompletenessNoAnchorsNoRewrite(t *testing.T) {
	calls := 0
	client := &fakeClient{
		completionFn: func(_ string) (string, error) {
			calls++
			return "should not be called", nil
		},
	}
	booster := NewBooster(client, DefaultDetectors()...)

	answer := newAnswer("The parties are ACME and GLOBEX [[ch2]].")
	items := []evidence{{id: "ch2", text: "ACME provides services to GLOBEX."}}
	boosted := booster.EnsureCompleteness(context.Background(), answer, items)

	if calls != 0 {
		t.Error("no rewrite call expected without anchors")
	}
	if boosted.Answer != answer.Answer {
		t.Error("answer should be untouched")
	}
}

func TestEnsureCompletenessAnchorsAlreadyPresent(t *testing.T) {
	calls := 0
	client := &fakeClient{
		completionFn: func(_ string) (string, error) {
			calls++
			return "should not be called", nil
		},
	}
	booster := NewBooster(client, DefaultDetectors()...)

	answer := newAnswer("Notice period is 30 days, penalty $5,000 [[ch1]].")
	booster.EnsureCompleteness(context.Background(), answer, noticeEvidence())

	if calls != 0 {
		t.Error("no rewrite expected when anchors already present")
	}
}
