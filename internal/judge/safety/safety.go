// Package safety gates every external process invocation built from
// data that is even partially derived from user or problem input. It is
// not the isolation mechanism (the sandbox is); it catches accidental
// privileged invocations inside trusted code paths.
package safety

import (
	"strings"

	"github.com/google/shlex"

	appErr "ojcore/pkg/errors"
)

// Command is a typed process invocation. Call sites never hand a raw
// command line to exec; they build a Command and validate it first.
type Command struct {
	Program string
	Args    []string
}

// Argv returns the full argument vector including the program.
func (c Command) Argv() []string {
	out := make([]string, 0, len(c.Args)+1)
	out = append(out, c.Program)
	out = append(out, c.Args...)
	return out
}

var deniedPrograms = map[string]struct{}{
	"rm": {}, "rmdir": {}, "del": {}, "format": {}, "mkfs": {}, "dd": {}, "shred": {},
	"sudo": {}, "su": {}, "chmod": {}, "chown": {}, "mount": {}, "umount": {},
	"iptables": {}, "firewall": {}, "service": {}, "systemctl": {},
	"ssh": {}, "scp": {}, "wget": {}, "curl": {}, "nc": {}, "telnet": {},
	"docker": {}, "kubectl": {}, "helm": {},
}

var deniedFlags = []string{
	"-rf", "--recursive", "--force", "--no-preserve-root",
	"--preserve-root=0", "-exec", "-ok", "-delete", "--privileged",
}

// Parse tokenizes a command line into a Command using shell-style
// splitting. An empty line is rejected.
func Parse(line string) (Command, error) {
	fields, err := shlex.Split(line)
	if err != nil {
		return Command{}, appErr.Wrapf(err, appErr.InvalidParams, "parse command failed")
	}
	if len(fields) == 0 {
		return Command{}, appErr.New(appErr.InvalidParams).WithMessage("command is empty")
	}
	return Command{Program: fields[0], Args: fields[1:]}, nil
}

// Validate reports whether the command is allowed to spawn. The check
// is conservative: it denies known-bad programs and flags and allows
// everything else.
func Validate(cmd Command) error {
	program := strings.ToLower(strings.TrimSpace(cmd.Program))
	if program == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("command is empty")
	}
	if _, denied := deniedPrograms[baseName(program)]; denied {
		return appErr.Newf(appErr.Forbidden, "command %q is not allowed", cmd.Program)
	}
	for _, arg := range cmd.Args {
		lowered := strings.ToLower(arg)
		for _, flag := range deniedFlags {
			if lowered == flag {
				return appErr.Newf(appErr.Forbidden, "argument %q is not allowed", arg)
			}
			if strings.HasPrefix(lowered, "-") && strings.Contains(lowered, flag) {
				return appErr.Newf(appErr.Forbidden, "argument %q is not allowed", arg)
			}
		}
	}
	return nil
}

// ParseAndValidate combines Parse and Validate for call sites that hold
// a command template string.
func ParseAndValidate(line string) (Command, error) {
	cmd, err := Parse(line)
	if err != nil {
		return Command{}, err
	}
	if err := Validate(cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func baseName(program string) string {
	if idx := strings.LastIndexByte(program, '/'); idx >= 0 {
		return program[idx+1:]
	}
	return program
}
