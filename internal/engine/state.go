package engine

// ApplyState carries the run-scoped flags the interpreter threads across
// commands. Passed by reference through the dispatch loop; never reset
// mid-run.
type ApplyState struct {
	// FullImage is set by `format system`: subsequent updates replace the
	// whole image instead of applying a delta.
	FullImage bool
	// DataFormatted is set when `format data` succeeds. It gates the
	// security-sensitive toggles for the rest of the run.
	DataFormatted bool
	// UpdateApplied is set when at least one update command succeeds and
	// decides whether the completion stamp is touched.
	UpdateApplied bool
	// Cleanup is set by the `cleanup` verb: remove the command file after a
	// successful run so the next boot does not replay it.
	Cleanup bool
}
