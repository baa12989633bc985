package env

import (
	"log"
	"os"
	"strings"

	"github.com/phalt/clientele-sub001/logger"
	"github.com/spf13/cobra"
)

// Line is one KEY=value assignment of an env file.
type Line struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseFile parses an env file. A missing file yields no lines.
func ParseFile(filename string) ([]Line, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return []Line{}, nil
	}
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseBuffer(buf)
}

// Load reads filename and exports every assignment that is not already set
// in the process environment.
func Load(filename string) error {
	lines, err := ParseFile(filename)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if _, ok := os.LookupEnv(l.Key); ok {
			continue
		}
		if err := os.Setenv(l.Key, l.Val); err != nil {
			return err
		}
	}
	return nil
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func parseLine(line string) Line {
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return Line{Key: line}
	}
	key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
	return Line{Key: key, Val: dequote(strings.TrimSpace(val))}
}

// ParseBuffer parses KEY=value lines. Blank lines and # comments are
// skipped, values may be quoted and may reference earlier keys or the
// process environment (see Interpolate).
func ParseBuffer(buf []byte) ([]Line, error) {
	lines := make([]Line, 0)
	vars := make(map[string]string)
	for _, raw := range strings.Split(string(buf), "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		l := parseLine(raw)
		if l.Key == "" {
			continue
		}
		l.Val = Interpolate(l.Val, vars)
		vars[l.Key] = l.Val
		lines = append(lines, l)
	}
	// second pass resolves forward references
	for i := range lines {
		lines[i].Val = Interpolate(lines[i].Val, vars)
	}
	return lines, nil
}

// Environ returns the process environment as a map.
func Environ() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

type reference struct {
	name     string
	fallback string
}

func findClosingBrace(input string, start int) int {
	depth := 1
	for i := start; i < len(input); i++ {
		switch input[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func parseReference(ref string) reference {
	name, fallback, _ := strings.Cut(ref[2:len(ref)-1], ":-")
	return reference{name: name, fallback: fallback}
}

func (r reference) resolve(vars map[string]string) (string, bool) {
	var val string
	if key, ok := strings.CutPrefix(r.name, "env:"); ok {
		val = os.Getenv(key)
	} else {
		val = vars[r.name]
	}
	if val != "" {
		return val, true
	}
	if r.fallback != "" {
		return r.fallback, true
	}
	return "", false
}

// Interpolate replaces ${NAME} and ${NAME:-default} references with values
// from vars, and ${env:NAME} references with the process environment.
// Unresolved references without a default are left untouched, as is input
// with unbalanced braces.
//
//	Interpolate("Bearer ${env:TOKEN:-none}", nil) // "Bearer none" when TOKEN is unset
func Interpolate(input string, vars map[string]string) string {
	if input == "" || strings.Count(input, "${") != strings.Count(input, "}") {
		return input
	}
	var sb strings.Builder
	last := 0
	for i := 0; i+1 < len(input); i++ {
		if input[i] != '$' || input[i+1] != '{' {
			continue
		}
		sb.WriteString(input[last:i])
		end := findClosingBrace(input, i+2)
		if end == -1 {
			sb.WriteString(input[i:])
			return sb.String()
		}
		ref := input[i : end+1]
		if r := parseReference(ref); r.name == "" {
			sb.WriteString(ref)
		} else if val, ok := r.resolve(vars); ok {
			sb.WriteString(val)
		} else {
			sb.WriteString(ref)
		}
		i = end
		last = end + 1
	}
	sb.WriteString(input[last:])
	return sb.String()
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

// LogLevel resolves the --log-level flag, then CLIENTELE_LOG_LEVEL.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, "info"))
}

// NewLogger returns a console logger at the level chosen by LogLevel.
func NewLogger(cmd *cobra.Command) logger.Logger {
	log.SetFlags(0)
	return logger.NewConsoleLogger(LogLevel(cmd))
}
