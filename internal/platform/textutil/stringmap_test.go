package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeStringMap(t *testing.T) {
	t.Run("trims and drops blank entries", func(t *testing.T) {
		input := map[string]string{
			" order_id ": " CMD-01 ",
			"store":      "SneakVault",
			"empty":      " ",
			" ":          "ignored",
		}
		expected := map[string]string{
			"order_id": "CMD-01",
			"store":    "SneakVault",
		}
		if actual := NormalizeStringMap(input); !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("returns nil for nil or empty input", func(t *testing.T) {
		if NormalizeStringMap(nil) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if NormalizeStringMap(map[string]string{"a": ""}) != nil {
			t.Fatalf("expected nil when every value is blank")
		}
	})
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"Air Max 90", 20, "Air Max 90"},
		{"Air Max 90", 0, "Air Max 90"},
		{"Chaussures élégantes", 11, "Chaussures…"},
		{"abc", 1, "…"},
	}
	for _, tc := range cases {
		if got := Truncate(tc.in, tc.limit); got != tc.want {
			t.Fatalf("Truncate(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}
