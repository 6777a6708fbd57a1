package ledger

// Outcome symbols used in ledger status cells. The converted and compiled
// columns use the pass/fail pair; the ran column uses the four-way set.
const (
	Pass = "✅"
	Fail = "❌"

	RunPass        = "🟢"
	RunBuildFailed = "🔨"
	RunSmokeFailed = "🚫"
	RunSkipped     = "⏭️"

	// Pending marks a slot that has no recorded outcome yet.
	Pending = "⬛"
)

// combining code points that attach to the preceding symbol rather than
// starting a new one (variation selector, zero-width joiner).
func isCombining(r rune) bool {
	return r == 0xFE0F || r == 0x200D
}

// SplitSymbols breaks a status cell into individual outcome symbols.
// Variation selectors stay attached to their base symbol, so "⏭️" is one
// slot. Whitespace between symbols is ignored.
func SplitSymbols(s string) []string {
	var out []string
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t':
			continue
		case isCombining(r) && len(out) > 0:
			out[len(out)-1] += string(r)
		default:
			out = append(out, string(r))
		}
	}
	return out
}

// JoinSymbols renders a slot sequence back into a status cell.
func JoinSymbols(symbols []string) string {
	var s string
	for _, sym := range symbols {
		s += sym
	}
	return s
}

// IsRunSuccess reports whether a ran-column symbol counts as success.
func IsRunSuccess(sym string) bool { return sym == RunPass }

// IsRunFailure reports whether a ran-column symbol counts as failure for
// aggregation: build failures, smoke failures, skips, and generic failures
// all count against the run rate.
func IsRunFailure(sym string) bool {
	switch sym {
	case RunBuildFailed, RunSmokeFailed, RunSkipped, Fail:
		return true
	}
	return false
}

// IsTerminalRun reports whether a ran-column symbol is a settled outcome
// that the docker verifier should not re-attempt. Pending slots and build
// failures are fair game for another attempt.
func IsTerminalRun(sym string) bool {
	return sym != "" && sym != Pending && sym != RunBuildFailed
}
