package spec

import (
	"fmt"
	"os"
	"strings"
)

const (
	// CommandPrefix starts the one template line that runs the evaluation.
	CommandPrefix = "srun"
	// CommandConfigFlag must appear on that line as well.
	CommandConfigFlag = "--exp-config"
	// CheckpointSeparator joins claimed checkpoint paths in SLURM_CHECKPOINTS.
	CheckpointSeparator = "__CKPT_SEP__"
)

const wrapperDelimiter = "__EVAL_WRAPPER__"

const wrapperHeader = `#!/usr/bin/env bash
# Runs the evaluation command for one of the checkpoints claimed by this job.
# $1 holds the claimed checkpoint paths joined by ` + CheckpointSeparator + `;
# SLURM_LOCALID selects the one this task evaluates.
set -eo pipefail

mapfile -t CHECKPOINTS < <(printf '%s\n' "${1//` + CheckpointSeparator + `/$'\n'}")
TASK_INDEX="${SLURM_LOCALID:-0}"
if (( TASK_INDEX >= ${#CHECKPOINTS[@]} )); then
    exit 0
fi

export SLURM_CHECKPOINT_PATH="${CHECKPOINTS[$TASK_INDEX]}"
CKPT_NAME="$(basename "${SLURM_CHECKPOINT_PATH}")"
export SLURM_LOG_PATH="${SLURM_LOG_DIR}/${CKPT_NAME%.*}.log"

`

// ScriptTemplate is a batch script template with exactly one evaluation
// command line: a logical line (backslash continuations joined) that starts
// with srun and passes --exp-config. The command may reference
// ${SLURM_CHECKPOINT_PATH} and ${SLURM_LOG_PATH}.
type ScriptTemplate struct {
	lines        []string
	commandIndex int
	command      string
}

// LoadScriptTemplate reads and validates a template file.
func LoadScriptTemplate(path string) (*ScriptTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read batch script template: %v", ErrConfiguration, err)
	}
	return ParseScriptTemplate(string(data))
}

// ParseScriptTemplate validates a template and extracts its command line.
func ParseScriptTemplate(text string) (*ScriptTemplate, error) {
	lines := logicalLines(text)
	t := &ScriptTemplate{lines: lines, commandIndex: -1}
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if !strings.HasPrefix(trimmed, CommandPrefix+" ") || !strings.Contains(trimmed, CommandConfigFlag) {
			continue
		}
		if t.commandIndex >= 0 {
			return nil, fmt.Errorf("%w: template has more than one %q line with %s (lines %d and %d)",
				ErrConfiguration, CommandPrefix, CommandConfigFlag, t.commandIndex+1, i+1)
		}
		t.commandIndex = i
		t.command = strings.TrimLeft(strings.TrimPrefix(trimmed, CommandPrefix), " \t")
	}
	if t.commandIndex < 0 {
		return nil, fmt.Errorf("%w: template has no line starting with %q that contains %s",
			ErrConfiguration, CommandPrefix, CommandConfigFlag)
	}
	return t, nil
}

// Command returns the extracted command without the srun prefix.
func (t *ScriptTemplate) Command() string {
	return t.command
}

// WrapperScript returns the script that evaluates one claimed checkpoint per
// task.
func (t *ScriptTemplate) WrapperScript() string {
	return wrapperHeader + t.command + "\n"
}

// BatchScript returns the template with its command line replaced by an
// inline copy of the wrapper and an srun invocation of it. The result does
// not depend on any file outside itself.
func (t *ScriptTemplate) BatchScript(wrapperName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "EVAL_WRAPPER=\"${TMPDIR:-/tmp}/%s-${SLURM_JOB_ID:-$$}.sh\"\n", wrapperName)
	fmt.Fprintf(&b, "cat > \"${EVAL_WRAPPER}\" <<'%s'\n", wrapperDelimiter)
	b.WriteString(t.WrapperScript())
	b.WriteString(wrapperDelimiter + "\n")
	b.WriteString(CommandPrefix + ` bash "${EVAL_WRAPPER}" "${SLURM_CHECKPOINTS}"`)

	out := make([]string, len(t.lines))
	copy(out, t.lines)
	out[t.commandIndex] = b.String()
	return strings.Join(out, "\n")
}

// logicalLines splits text on newlines, keeping backslash-continued physical
// lines together. Joining the result with "\n" reproduces text.
func logicalLines(text string) []string {
	physical := strings.Split(text, "\n")
	var lines []string
	var current []string
	for _, line := range physical {
		current = append(current, line)
		if strings.HasSuffix(line, "\\") {
			continue
		}
		lines = append(lines, strings.Join(current, "\n"))
		current = nil
	}
	if len(current) > 0 {
		lines = append(lines, strings.Join(current, "\n"))
	}
	return lines
}
