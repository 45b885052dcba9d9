package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// env.config sits next to the data directory and holds KEY=VALUE pairs
// that backfill unset environment variables at startup.

// ReadEnvConfig loads the pairs from path. A missing or unreadable
// file yields an empty map; blank lines, comments, and lines without
// an '=' are skipped.
func ReadEnvConfig(path string) map[string]string {
	values := make(map[string]string)
	f, err := os.Open(path)
	if err != nil {
		return values
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return values
}

// WriteEnvConfig replaces the file with the given pairs, keys sorted
// so the file diffs cleanly
func WriteEnvConfig(path string, values map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(f, "%s=%s\n", k, values[k]); err != nil {
			return err
		}
	}
	return nil
}

// MergeEnvConfig overlays updates onto the existing file content and
// writes the result back
func MergeEnvConfig(path string, updates map[string]string) error {
	values := ReadEnvConfig(path)
	for k, v := range updates {
		values[k] = v
	}
	return WriteEnvConfig(path, values)
}
