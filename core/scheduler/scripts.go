package scheduler

import (
	"campaign-orchestrator/core/spec"
	"campaign-orchestrator/storage"
)

// PrepareScripts renders the batch script for prefix into scratch and keeps
// a copy of the wrapper next to it for inspection. It returns the batch
// script path to submit.
func PrepareScripts(tmpl *spec.ScriptTemplate, scratch *storage.Scratch, prefix string) (string, error) {
	if _, err := scratch.WriteFile(prefix+"_wrapper.sh", []byte(tmpl.WrapperScript()), 0o755); err != nil {
		return "", err
	}
	return scratch.WriteFile(prefix+"_eval.sh", []byte(tmpl.BatchScript(prefix+"_wrapper")), 0o755)
}
