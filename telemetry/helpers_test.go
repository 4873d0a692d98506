package telemetry

import (
	"os"
	"strings"
	"testing"
)

func readLines(t *testing.T, fn string) []string {
	t.Helper()
	b, err := os.ReadFile(fn)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}
