package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/odyssey-erp/odyssey-strategy/internal/platform/db"
)

// MigrateCommand applies embedded migrations. args: [up | down N | steps N | version].
func MigrateCommand(databaseURL string, args []string, stdout, stderr io.Writer) int {
	stdout, stderr = streams(stdout, stderr)
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}
	switch action {
	case "up":
		if err := db.Migrate(databaseURL, 0); err != nil {
			_, _ = fmt.Fprintf(stderr, "migrate up: %v\n", err)
			return 1
		}
	case "down", "steps":
		if len(args) < 2 {
			_, _ = fmt.Fprintf(stderr, "migrate %s: step count required\n", action)
			return 1
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			_, _ = fmt.Fprintf(stderr, "migrate %s: invalid step count %q\n", action, args[1])
			return 1
		}
		if action == "down" {
			n = -n
		}
		if err := db.Migrate(databaseURL, n); err != nil {
			_, _ = fmt.Fprintf(stderr, "migrate %s: %v\n", action, err)
			return 1
		}
	case "version":
	default:
		_, _ = fmt.Fprintf(stderr, "migrate: unknown action %q\n", action)
		return 1
	}
	version, dirty, err := db.Version(databaseURL)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate version: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "schema version %d (dirty=%t)\n", version, dirty)
	return 0
}
