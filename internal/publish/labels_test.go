package publish

import (
	"reflect"
	"testing"
)

func TestSanitizeLabel(t *testing.T) {
	cases := []struct{ in, want string }{
		{"API Design!", "api-design"},
		{"<proto>", "proto"},
		{" Weird__Tag ", "weird-tag"},
		{"ALREADY-ok", "already-ok"},
		{"v1.2", "v1-2"},
		{"---", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := sanitizeLabel(tc.in); got != tc.want {
			t.Errorf("sanitizeLabel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtractTagLabelsList(t *testing.T) {
	fm := map[string]any{"tags": []any{"A", "<proto>", "a"}}
	got := ExtractTagLabels(fm)
	want := []string{"a", "proto"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractTagLabels = %v, want %v", got, want)
	}
}

func TestExtractTagLabelsCommaString(t *testing.T) {
	got := ExtractTagLabels(map[string]any{"tags": "One, Two ,one"})
	want := []string{"one", "two"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractTagLabels = %v, want %v", got, want)
	}
}

func TestExtractTagLabelsScalar(t *testing.T) {
	got := ExtractTagLabels(map[string]any{"tags": 42})
	if !reflect.DeepEqual(got, []string{"42"}) {
		t.Fatalf("ExtractTagLabels = %v, want [42]", got)
	}
}

func TestExtractTagLabelsAbsent(t *testing.T) {
	if got := ExtractTagLabels(map[string]any{"title": "x"}); got != nil {
		t.Errorf("ExtractTagLabels without tags = %v, want nil", got)
	}
	if got := ExtractTagLabels(nil); got != nil {
		t.Errorf("ExtractTagLabels(nil) = %v, want nil", got)
	}
}
