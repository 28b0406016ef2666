package tsuryphone

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRingPattern(t *testing.T) {
	cases := []struct {
		in   string
		want RingPattern
	}{
		{"2500,500,500,500x3", RingPattern{Durations: []int{2500, 500, 500, 500}, Repeats: 3}},
		{"1000,200,1000", RingPattern{Durations: []int{1000, 200, 1000}, Repeats: 1}},
		{"500/5", RingPattern{Durations: []int{500}, Repeats: 5}},
		{" 500 , 250 x 2 ", RingPattern{Durations: []int{500, 250}, Repeats: 2}},
		{"30000", RingPattern{Durations: []int{30000}, Repeats: 1}},
		{"500,,500x2", RingPattern{Durations: []int{500, 500}, Repeats: 2}},
	}
	for _, tc := range cases {
		got, err := ParseRingPattern(tc.in)
		if err != nil {
			t.Errorf("ParseRingPattern(%q) error: %v", tc.in, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ParseRingPattern(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestParseRingPatternRejects(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"0,500",
		"-500",
		"500x0",
		"500x101",
		"500x-1",
		"30001",
		"500,500,500x2",
		"abc",
		"500xabc",
		"500/",
		"x3",
	}
	for _, in := range cases {
		if _, err := ParseRingPattern(in); err == nil {
			t.Errorf("ParseRingPattern(%q) = nil error, want reject", in)
		}
	}
}
