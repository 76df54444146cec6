package enum

import (
	"os"
	"strings"
)

// Flags whose following argument names the command's output file.
var (
	// Primary scans emit structured XML, designated by nmap's -oX.
	primaryOutputFlags = []string{"-ox"}

	// Secondary scans emit line-oriented text through one of these.
	secondaryOutputFlags = []string{"-on", "tee", "-o", "--simple-report"}
)

// splitCommand breaks a shell-style command string into fragments, honoring
// single and double quotes. It only needs to be good enough to locate
// output-file flags and their arguments; the shell itself does the real
// parsing at execution time.
func splitCommand(command string) []string {
	var (
		fragments []string
		current   strings.Builder
		quote     rune
		inToken   bool
	)

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n':
			if inToken {
				fragments = append(fragments, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	if inToken {
		fragments = append(fragments, current.String())
	}
	return fragments
}

// DetermineOutputFile scans a rendered command for an output-designating
// flag and returns the path that follows it. ok is false when no output
// file can be determined.
func DetermineOutputFile(command string, outputFlags []string) (path string, ok bool) {
	fragments := splitCommand(command)

	for i, fragment := range fragments {
		fragment = strings.ToLower(fragment)
		for _, flag := range outputFlags {
			if fragment != flag {
				continue
			}
			if i+1 >= len(fragments) {
				continue
			}
			return fragments[i+1], true
		}
	}
	return "", false
}

// ShouldRunCommand implements the idempotency policy: run when the output
// file is undeterminable or does not exist yet. Commands with no detectable
// output file (pure network probes) always rerun.
func ShouldRunCommand(outputFile string, ok bool) bool {
	if !ok {
		return true
	}
	info, err := os.Stat(outputFile)
	if err != nil {
		return true
	}
	return info.IsDir()
}
