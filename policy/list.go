package policy

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadFile reads a newline-delimited FQDN list. Blank lines and lines
// starting with '#' are skipped; entries come back normalized.
func LoadFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("policy: could not open list: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	var names []string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, normalize(line))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("policy: could not read list: %w", err)
	}

	return names, nil
}

// normalize is the comparison form shared with the wire codec: lower-case,
// trailing dot stripped.
func normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}
