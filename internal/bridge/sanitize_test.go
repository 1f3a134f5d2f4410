package bridge

import (
	"encoding/json"
	"testing"
)

func TestSanitizeJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "positive infinity",
			in:   `{"profit_ratio": Infinity}`,
			want: `{"profit_ratio": null}`,
		},
		{
			name: "negative infinity",
			in:   `{"profit_ratio": -Infinity}`,
			want: `{"profit_ratio": null}`,
		},
		{
			name: "nan",
			in:   `{"current_rate": NaN}`,
			want: `{"current_rate": null}`,
		},
		{
			name: "mixed tokens",
			in:   `{"a": NaN, "b": Infinity, "c": -Infinity, "d": 1.5}`,
			want: `{"a": null, "b": null, "c": null, "d": 1.5}`,
		},
		{
			name: "clean message untouched",
			in:   `{"state": "running", "balance": 1000.5}`,
			want: `{"state": "running", "balance": 1000.5}`,
		},
		{
			name: "nested",
			in:   `{"data": {"ratios": [NaN, 0.5, Infinity]}}`,
			want: `{"data": {"ratios": [null, 0.5, null]}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(sanitizeJSON([]byte(tt.in)))
			if got != tt.want {
				t.Errorf("sanitizeJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}

			var decoded map[string]any
			if err := json.Unmarshal([]byte(got), &decoded); err != nil {
				t.Errorf("sanitized output is not valid JSON: %v", err)
			}
		})
	}
}

func TestSanitizeJSON_NoAllocationWhenClean(t *testing.T) {
	in := []byte(`{"state": "running"}`)
	out := sanitizeJSON(in)
	if &in[0] != &out[0] {
		t.Error("clean input should be returned as-is")
	}
}
