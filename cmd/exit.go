package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/fieldcrawl/crawler/internal/crawler"
)

// exit is a var so tests can intercept process termination.
var exit = os.Exit

// exitCodeFor maps a command error to a process exit code: 2 for a
// configuration error, 4 for an interrupted (context-canceled) run, 3 for
// any other runtime failure.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 4
	}
	if kind, ok := crawler.KindOf(err); ok && kind == crawler.ErrKindConfig {
		return 2
	}
	return 3
}
