package syncer

// Strategy governs how pull resolves divergent local/remote history.
type Strategy string

const (
	// StrategyLocalWins resolves conflicting hunks in favor of the
	// local side (git merge option "ours").
	StrategyLocalWins Strategy = "local-wins"

	// StrategyRemoteWins resolves conflicting hunks in favor of the
	// remote side (git merge option "theirs").
	StrategyRemoteWins Strategy = "remote-wins"

	// StrategyManual uses git's default merge and leaves conflict
	// markers in place for a human to resolve.
	StrategyManual Strategy = "manual"

	// StrategyTimestampWins and StrategyMergeMarkers behave like
	// manual at the git level; the distinction is advisory for
	// whoever resolves the markers.
	StrategyTimestampWins Strategy = "timestamp-wins"
	StrategyMergeMarkers  Strategy = "merge-markers"
)

// ParseStrategy maps a config string onto a Strategy. Matching is
// exact: every recognized value, including "manual", keeps its own
// behavior, and only genuinely unknown or empty values fall back to
// local-wins.
func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategyLocalWins, StrategyRemoteWins, StrategyManual,
		StrategyTimestampWins, StrategyMergeMarkers:
		return Strategy(s)
	default:
		return StrategyLocalWins
	}
}

// MergeDirective returns the git merge strategy option ("-X" value)
// for the strategy, or "" when git's default merge should be used.
func (s Strategy) MergeDirective() string {
	switch s {
	case StrategyLocalWins:
		return "ours"
	case StrategyRemoteWins:
		return "theirs"
	default:
		return ""
	}
}
