package util

import "testing"

func TestNormalizeIDs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "already normalized",
			in:   "Notice is 30 days [[ch1]].",
			want: "Notice is 30 days [[ch1]].",
		},
		{
			name: "bold double brackets",
			in:   "Notice is 30 days **[[ch1]]**.",
			want: "Notice is 30 days [[ch1]].",
		},
		{
			name: "single brackets upgraded",
			in:   "Notice is 30 days [ch1].",
			want: "Notice is 30 days [[ch1]].",
		},
		{
			name: "markdown link untouched",
			in:   "See [the contract](https://example.com/doc-1).",
			want: "See [the contract](https://example.com/doc-1).",
		},
		{
			name: "adjacent duplicates collapse",
			in:   "The parties agree [[ch2]] [[ch2]].",
			want: "The parties agree [[ch2]].",
		},
		{
			name: "distinct adjacent markers kept",
			in:   "Both sections apply [[ch1]] [[ch2]].",
			want: "Both sections apply [[ch1]] [[ch2]].",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeIDs(tt.in); got != tt.want {
				t.Errorf("NormalizeIDs(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
