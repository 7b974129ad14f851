package syncer

import "fmt"

// Result is the structured outcome of a sync phase or of the full
// pipeline. Success=false always carries Error and leaves every phase
// boolean false; a disabled phase reports its boolean false on a
// successful Result (not attempted, not failed).
type Result struct {
	Success   bool     `json:"success"`
	Pulled    bool     `json:"pulled"`
	Pushed    bool     `json:"pushed"`
	Committed bool     `json:"committed"`
	Changes   []string `json:"changes,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func success() Result {
	return Result{Success: true}
}

func failure(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}
