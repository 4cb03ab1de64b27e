package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance bounds "did you mean?" suggestions.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each table. The empty table name is the
// top level.
var knownKeys = map[string][]string{
	"":          {"data_dir", "logging", "network", "providers", "transfers"},
	"providers": {"google_client_id", "google_client_secret", "onedrive_client_id", "redirect_port"},
	"transfers": {"chunk_size"},
	"logging":   {"log_file", "log_format", "log_level", "log_max_size_mb", "log_retention_days"},
	"network":   {"connect_timeout", "user_agent"},
}

// checkUnknownKeys reports every undecoded key with a suggestion when a
// known key in the same table is close. A key placed in the wrong table
// is pointed at the table it belongs to, and an unknown table is reported
// once rather than once per key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()

	badTables := make(map[string]bool)

	for _, key := range undecoded {
		if _, known := knownKeys[key[0]]; !known && len(key) > 1 {
			badTables[key[0]] = true
		}
	}

	var errs []error

	reported := make(map[string]bool)

	for _, key := range undecoded {
		switch {
		case badTables[key[0]]:
			if !reported[key[0]] {
				reported[key[0]] = true
				errs = append(errs, unknownTableError(key[0]))
			}
		case !reported[key.String()]:
			reported[key.String()] = true
			errs = append(errs, unknownKeyError(key))
		}
	}

	return errors.Join(errs...)
}

func unknownTableError(table string) error {
	if suggestion := closestMatch(table, knownKeys[""]); suggestion != "" {
		return fmt.Errorf("unknown config section [%s], did you mean [%s]?", table, suggestion)
	}

	return fmt.Errorf("unknown config section [%s]", table)
}

func unknownKeyError(key toml.Key) error {
	table, field := "", key[0]
	if len(key) > 1 {
		table, field = key[0], key[len(key)-1]
	}

	if home := tableOf(field); home != "" && home != table {
		return fmt.Errorf("unknown config key %q, it belongs in [%s]", key.String(), home)
	}

	if suggestion := closestMatch(field, knownKeys[table]); suggestion != "" {
		return fmt.Errorf("unknown config key %q, did you mean %q?", key.String(), suggestion)
	}

	return fmt.Errorf("unknown config key %q", key.String())
}

// tableOf returns the section that defines field, or "".
func tableOf(field string) string {
	for table, keys := range knownKeys {
		if table != "" && slices.Contains(keys, field) {
			return table
		}
	}

	return ""
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance. Ties
// go to the earlier key, so callers pass sorted lists.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(strings.ToLower(unknown), k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings using two
// rolling rows.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
