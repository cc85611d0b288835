// Package ffmpegcmd builds canonical CLI invocations for the ffmpeg remuxer.
//
// Design:
//
//   - This layer is a pure "command construction" module: no execution, no
//     I/O. It returns either argv (process argument vector) or a shell-quoted
//     command string (for logging). Process lifecycle belongs in a higher
//     layer.
//
// Emission policy is deterministic and explicit:
//
//   - Flags are emitted in a stable order so invocations diff cleanly.
//   - Empty string values are skipped to avoid surprising empties.
//   - argv[0] is always the binary path, mirroring POSIX/Go norms.
package ffmpegcmd

import "strings"

// Builder constructs argv and shell-safe command strings for the remuxer.
//
// The Builder implements a fluent API; it is NOT concurrency-safe. Callers
// should treat a Builder as a single-use, short-lived value object.
type Builder struct {
	args []string // argv including binary name at index 0
}

// NewBuilder returns a Builder pre-seeded with the binary path.
func NewBuilder(bin string) *Builder {
	return &Builder{args: []string{bin}}
}

// WithFlag appends a bare flag (e.g. "-y").
func (b *Builder) WithFlag(flag string) *Builder {
	b.args = append(b.args, flag)
	return b
}

// WithOption appends a flag with a string value if the value is non-empty.
func (b *Builder) WithOption(flag, val string) *Builder {
	if val != "" {
		b.args = append(b.args, flag, val)
	}
	return b
}

// WithArg appends a positional argument if non-empty (URLs, paths).
func (b *Builder) WithArg(arg string) *Builder {
	if arg != "" {
		b.args = append(b.args, arg)
	}
	return b
}

// BuildArgv returns a defensive copy of the constructed argument vector.
func (b *Builder) BuildArgv() []string {
	out := make([]string, len(b.args))
	copy(out, b.args)
	return out
}

// BuildString returns a single shell-quoted command string, safe for POSIX
// shells and log lines.
func (b *Builder) BuildString() string {
	quoted := make([]string, len(b.args))
	for i, a := range b.args {
		quoted[i] = shQuote(a)
	}
	return strings.Join(quoted, " ")
}

// shQuote returns a POSIX-safe single-quoted token. Empty strings become
// "''" to preserve round-trippability.
func shQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
