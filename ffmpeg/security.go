package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// reservedFlags are owned by the assembler: inputs, the filter graph and the
// stream mapping are generated from the cut list.
var reservedFlags = map[string]bool{
	"-i":              true,
	"-filter_complex": true,
	"-lavfi":          true,
	"-map":            true,
	"-f":              true,
	"-y":              true,
	"-n":              true,
}

// ValidateExtraArgs checks operator-supplied encoder arguments.
func ValidateExtraArgs(args []string) error {
	for _, arg := range args {
		if reservedFlags[arg] {
			return fmt.Errorf("argument %s is managed by the assembler", arg)
		}
		// exec.Command never invokes a shell, but these have no business in encoder flags.
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}
