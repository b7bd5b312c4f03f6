//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// fakeBorg writes an executable standing in for borg. Every invocation
// appends its arguments to the returned log file. A source path containing
// "fail" exits 1 with "disk full" on stderr.
func fakeBorg(t *testing.T) (bin, argLog string) {
	t.Helper()

	dir := t.TempDir()
	bin = filepath.Join(dir, "borg")
	argLog = filepath.Join(dir, "args.log")

	script := `#!/bin/sh
printf '%s\n' "$*" >> "` + argLog + `"
if [ "$1" = "--version" ]; then
	echo "borg 1.2.8"
	exit 0
fi
for last; do :; done
case "$last" in
	*fail*) echo "disk full" >&2; exit 1 ;;
esac
exit 0
`
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755)) //nolint:gosec // test executable
	return bin, argLog
}
