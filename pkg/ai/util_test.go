package ai

import "testing"

func TestUnmarshalFlexible(t *testing.T) {
	type record struct {
		Name  string `json:"name"`
		Score int    `json:"score"`
	}

	tests := []struct {
		name  string
		input string
		want  record
	}{
		{
			name:  "plain json",
			input: `{"name": "alpha", "score": 3}`,
			want:  record{Name: "alpha", Score: 3},
		},
		{
			name:  "double encoded",
			input: `"{\"name\": \"beta\", \"score\": 7}"`,
			want:  record{Name: "beta", Score: 7},
		},
		{
			name:  "missing closing brace",
			input: `{"name": "gamma", "score": 9`,
			want:  record{Name: "gamma", Score: 9},
		},
		{
			name:  "surrounding whitespace",
			input: "\n  {\"name\": \"delta\", \"score\": 1}  \n",
			want:  record{Name: "delta", Score: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got record
			if err := UnmarshalFlexible(tt.input, &got); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestUnmarshalFlexibleRejectsGarbage(t *testing.T) {
	var out map[string]any
	if err := UnmarshalFlexible("", &out); err == nil {
		t.Error("expected error for empty input")
	}
}
