package watch

import "testing"

func TestMatcherMatch(t *testing.T) {
	cases := []struct {
		name    string
		domains []string
		host    string
		want    bool
	}{
		{"substring hit", []string{"anthropic"}, "api.anthropic.com", true},
		{"case insensitive", []string{"ANTHROPIC"}, "api.anthropic.com", true},
		{"no match", []string{"anthropic"}, "example.test", false},
		{"empty list", nil, "example.test", false},
		{"multiple domains", []string{"foo", "anthropic"}, "api.anthropic.com", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := New(tc.domains)
			if got := m.Match(tc.host); got != tc.want {
				t.Errorf("Match(%q) = %v, want %v", tc.host, got, tc.want)
			}
		})
	}
}

func TestRuntimeSwap(t *testing.T) {
	r := NewRuntime([]string{"example"})
	if !r.Match("api.example.com") {
		t.Fatal("expected initial match")
	}
	r.Swap([]string{"other"})
	if r.Match("api.example.com") {
		t.Fatal("expected no match after swap")
	}
	if !r.Match("api.other.com") {
		t.Fatal("expected match against swapped list")
	}
}

func TestNilRuntimeMatch(t *testing.T) {
	var r *Runtime
	if r.Match("anything") {
		t.Fatal("nil runtime must never match")
	}
}
