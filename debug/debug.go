package debug

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type debug struct {
	Parse   bool
	Handles bool
	Render  bool
}

var d *debug

func init() {
	d = &debug{}
	d.Parse = boolEnv("TBLGEN_DEBUG_PARSE")
	d.Handles = boolEnv("TBLGEN_DEBUG_HANDLES")
	d.Render = boolEnv("TBLGEN_DEBUG_RENDER")
}

func boolEnv(v string) bool {
	x := os.Getenv(v)
	if x == "" {
		return false
	}
	b, _ := strconv.ParseBool(x)
	return b
}

func Parse() bool {
	return d.Parse
}
func Handles() bool {
	return d.Handles
}
func Render() bool {
	return d.Render
}

// Any reports whether some debug output is enabled.
func Any() bool {
	return d.Parse || d.Handles || d.Render
}

// Logger returns a text logger on stderr at debug level, used when a
// debug toggle is set and the caller configured no logger.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func Logf(msg string, args ...any) {
	for i := range args {
		switch args[i].(type) {
		case map[string]any, []any:
			d, err := json.MarshalIndent(args[i], "   |", "  ")
			if err != nil {
				args[i] = fmt.Sprintf("%v", args[i])
				continue
			}
			args[i] = string(d)
		}
	}
	fmt.Fprintf(os.Stderr, msg, args...)
}
