package tailterm

import (
	"fmt"
	"regexp"
	"strings"
)

// ANSI SGR sequences used when colouring lines.
const (
	ColorReset     = "\033[0m"
	ColorRed       = "\033[31m"
	ColorGreen     = "\033[32m"
	ColorYellow    = "\033[33m"
	ColorBlue      = "\033[34m"
	ColorCyan      = "\033[36m"
	ColorLightGray = "\033[37m"
	ColorDarkGray  = "\033[90m"
)

// Plugin rewrites a line before it is sent. Returning false drops the line
// and skips the remaining plugins.
type Plugin interface {
	Apply(line string) (string, bool)
}

// PluginFunc adapts a function to a Plugin.
type PluginFunc func(line string) (string, bool)

func (f PluginFunc) Apply(line string) (string, bool) { return f(line) }

var (
	slogTextPattern = regexp.MustCompile(`(\w+)=("(?:[^"\\]|\\.)*"|[^\s]+)`)
	slogJSONPattern = regexp.MustCompile(`"(\w+)":\s*("(?:[^"\\]|\\.)*"|[^\s,}]+)`)
	syslogPattern   = regexp.MustCompile(`^(\S+)\s+(\S+)\s+([^\s:]+(?:\[\d+\])?):(.*)$`)
)

var levelColors = []struct{ level, color string }{
	{"TRACE", ColorDarkGray},
	{"DEBUG", ColorLightGray},
	{"INFO", ColorGreen},
	{"WARN", ColorYellow},
	{"ERROR", ColorRed},
}

// Syntaxes lists the names accepted by Highlight.
var Syntaxes = []string{"level", "slog-text", "slog-json", "syslog"}

type highlight []string

// Highlight colours log lines. Each syntax is one of Syntaxes.
func Highlight(syntax ...string) (Plugin, error) {
	h := make(highlight, 0, len(syntax))
	for _, s := range syntax {
		s = strings.ToLower(s)
		switch s {
		case "level", "levels":
			s = "level"
		case "slog-text", "slog-json", "syslog":
		default:
			return nil, fmt.Errorf("unknown syntax %q", s)
		}
		h = append(h, s)
	}
	return h, nil
}

func (h highlight) Apply(line string) (string, bool) {
	for _, syntax := range h {
		switch syntax {
		case "level":
			for _, lc := range levelColors {
				line = strings.ReplaceAll(line, lc.level, lc.color+lc.level+ColorReset)
			}
		case "slog-text":
			line = colorPairs(slogTextPattern, line, "=")
		case "slog-json":
			line = colorPairs(slogJSONPattern, line, ":")
		case "syslog":
			if m := syslogPattern.FindStringSubmatch(line); m != nil {
				line = ColorBlue + m[1] + ColorReset + " " +
					ColorCyan + m[2] + ColorReset + " " +
					ColorYellow + m[3] + ColorReset + ":" + m[4]
			}
			// rsyslog escapes ESC as #033.
			line = strings.ReplaceAll(line, "#033[", "\033[")
		}
	}
	return line, true
}

func colorPairs(re *regexp.Regexp, line, sep string) string {
	return re.ReplaceAllStringFunc(line, func(match string) string {
		key, value, ok := strings.Cut(match, sep)
		if !ok {
			return match
		}
		return ColorCyan + strings.TrimSpace(key) + ColorReset + sep + ColorBlue + strings.TrimSpace(value) + ColorReset
	})
}

// Grep keeps only lines matching re.
func Grep(re *regexp.Regexp) Plugin {
	return PluginFunc(func(line string) (string, bool) {
		return line, re.MatchString(line)
	})
}

func apply(plugins []Plugin, line string) (string, bool) {
	for _, p := range plugins {
		var keep bool
		if line, keep = p.Apply(line); !keep {
			return "", false
		}
	}
	return line, true
}
