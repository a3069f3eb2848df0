package shell

import (
	"regexp"
	"strings"
)

// SplitScript splits a newline-delimited command block into an ordered
// sequence of trimmed, non-empty command strings.
func SplitScript(block string) []string {
	var cmds []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			cmds = append(cmds, line)
		}
	}
	return cmds
}

var (
	ansiRE         = regexp.MustCompile(`\x1b\[[?0-9;]*[a-zA-Z]`)
	progressHeadRE = regexp.MustCompile(`^\s*\d+%`)
	progressTailRE = regexp.MustCompile(`\d+%\s*$`)
)

// CleanLine strips ANSI escape sequences and carriage returns from a line
// of shell output. The second return value reports whether the line should
// be dropped entirely: blank lines and progress-indicator lines such as
// "0% [Working]" carry no information once the command has finished.
func CleanLine(line string) (string, bool) {
	line = ansiRE.ReplaceAllString(line, "")
	line = strings.Trim(line, "\r")
	if progressHeadRE.MatchString(line) || progressTailRE.MatchString(line) {
		return "", false
	}
	if strings.TrimSpace(line) == "" {
		return "", false
	}
	return line, true
}

// Scrub applies CleanLine to every line, dropping the ones flagged for
// removal.
func Scrub(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if cleaned, keep := CleanLine(line); keep {
			out = append(out, cleaned)
		}
	}
	return out
}
