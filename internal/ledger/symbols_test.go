package ledger

import (
	"reflect"
	"testing"
)

func TestSplitSymbols(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"✅✅❌", []string{Pass, Pass, Fail}},
		{"🟢🔨⬛", []string{RunPass, RunBuildFailed, Pending}},
		// Skipped uses a variation selector; it must stay a single slot.
		{"⏭️🟢", []string{RunSkipped, RunPass}},
		{" ✅ ❌ ", []string{Pass, Fail}},
	}
	for _, tc := range cases {
		got := SplitSymbols(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("SplitSymbols(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestIsTerminalRun(t *testing.T) {
	cases := []struct {
		sym  string
		want bool
	}{
		{RunPass, true},
		{RunSmokeFailed, true},
		{RunSkipped, true},
		{RunBuildFailed, false},
		{Pending, false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsTerminalRun(tc.sym); got != tc.want {
			t.Errorf("IsTerminalRun(%q) = %v, want %v", tc.sym, got, tc.want)
		}
	}
}

func TestRunOutcomeClassification(t *testing.T) {
	if !IsRunSuccess(RunPass) {
		t.Error("🟢 should count as a run success")
	}
	for _, sym := range []string{RunBuildFailed, RunSmokeFailed, RunSkipped, Fail} {
		if !IsRunFailure(sym) {
			t.Errorf("%q should count as a run failure", sym)
		}
		if IsRunSuccess(sym) {
			t.Errorf("%q must not count as a run success", sym)
		}
	}
	if IsRunFailure(Pending) {
		t.Error("⬛ must not count as a run failure")
	}
}
