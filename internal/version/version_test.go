package version

import (
	"sort"
	"testing"
)

func TestIsNumeric(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"1", true},
		{"1.2.3", true},
		{"2024.01.05", true},
		{"", false},
		{"v1.2.3", false},
		{"1.2.3-rc1", false},
		{"1..2", false},
		{"1.2.", false},
		{"latest", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := IsNumeric(tt.in); got != tt.want {
				t.Errorf("IsNumeric(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"equal", "1.2.0", "1.2.0", 0},
		{"numeric segment", "1.10.0", "1.9.0", 1},
		{"major wins", "2.0.0", "1.99.99", 1},
		{"lower", "1.2.0", "1.3.0", -1},
		{"wide segment", "1.18446744073709551616", "1.18446744073709551615", 1},
		{"numeric above non-numeric", "0.0.1", "v9.9.9", 1},
		{"non-numeric below numeric", "latest", "1.0", -1},
		{"non-numeric lexicographic", "v1.10", "v1.9", -1},
		{"leading v not stripped", "v2.0.0", "1.0.0", -1},
		{"shorter equal prefix first", "1.2", "1.2.0", -1},
		{"longer equal prefix after", "1.2.0", "1.2", 1},
		{"leading zeros", "01.2", "1.2", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.a, tt.b); got != tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got := Compare(tt.b, tt.a); got != -tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
			}
		})
	}
}

func TestSortIsDeterministic(t *testing.T) {
	want := []string{"beta", "nightly", "v3", "1.0", "1.0.0", "1.2", "1.10", "2"}

	in := []string{"1.10", "v3", "2", "1.0.0", "nightly", "1.2", "beta", "1.0"}
	for i := 0; i < 5; i++ {
		got := append([]string(nil), in...)
		// rotate to vary the input order
		got = append(got[i:], got[:i]...)
		sort.Slice(got, func(x, y int) bool { return Less(got[x], got[y]) })
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("sorted = %v, want %v", got, want)
			}
		}
	}
}

func TestMax(t *testing.T) {
	if got := Max(); got != "" {
		t.Errorf("Max() = %q, want empty", got)
	}
	if got := Max("1.2.0", "1.10.0", "v9", "1.9.9"); got != "1.10.0" {
		t.Errorf("Max() = %q, want 1.10.0", got)
	}
	if got := Max("alpha", "beta"); got != "beta" {
		t.Errorf("Max() = %q, want beta", got)
	}
}
