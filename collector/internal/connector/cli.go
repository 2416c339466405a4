package connector

import (
	"regexp"
	"strings"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// singletonPaths print one "key: value" block instead of a list.
var singletonPaths = map[string]bool{
	"/system/identity":    true,
	"/system/resource":    true,
	"/system/routerboard": true,
}

// statsPaths only print their traffic, error and drop counters with the
// stats argument.
var statsPaths = map[string]bool{
	"/interface":          true,
	"/interface/ethernet": true,
	"/ip/firewall/filter": true,
}

// cliCommand renders a resource path as a RouterOS CLI print command.
// API-style arguments are translated: "?k=v" becomes a where clause and
// "=k=v" is passed through as "k=v".
func cliCommand(path string, args []string) string {
	clean := "/" + strings.Trim(path, "/")
	clean = strings.TrimSuffix(clean, "/print")

	var b strings.Builder
	b.WriteString("/")
	b.WriteString(strings.ReplaceAll(strings.TrimPrefix(clean, "/"), "/", " "))
	b.WriteString(" print")
	if statsPaths[clean] {
		b.WriteString(" stats")
	}
	if !singletonPaths[clean] {
		b.WriteString(" terse")
	}

	var where []string
	for _, a := range args {
		switch {
		case strings.HasPrefix(a, "?"):
			where = append(where, strings.TrimPrefix(a, "?"))
		case strings.HasPrefix(a, "="):
			b.WriteString(" ")
			b.WriteString(strings.TrimPrefix(a, "="))
		}
	}
	b.WriteString(" without-paging")
	if len(where) > 0 {
		b.WriteString(" where ")
		b.WriteString(strings.Join(where, " "))
	}
	return b.String()
}

var cliErrorPrefixes = []string{
	"bad command name",
	"syntax error",
	"expected ",
	"input does not match",
	"no such item",
	"failure:",
}

// cliError returns the first line that RouterOS uses to report a failed
// command, or "" if the output looks like data.
func cliError(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		for _, p := range cliErrorPrefixes {
			if strings.HasPrefix(line, p) {
				return line
			}
		}
	}
	return ""
}

var (
	terseLine = regexp.MustCompile(`^\s*(\d+)\s+(?:([A-Z]+)\s+)?(.*)$`)
	keyStart  = regexp.MustCompile(`(?:^|\s)([A-Za-z0-9][\w.-]*)=`)
	colonLine = regexp.MustCompile(`^\s*([\w.-]+):\s*(.*)$`)
)

// ParseCLIOutput parses terse "N FLAGS k=v ..." rows, one record per row,
// and "key: value" blocks, one record per block.
func ParseCLIOutput(out string) []types.RawRecord {
	var (
		records []types.RawRecord
		block   types.RawRecord
	)
	flush := func() {
		if len(block) > 0 {
			records = append(records, block)
		}
		block = nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(out, "\r", ""), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flush()
			continue
		}
		if strings.HasPrefix(trimmed, "Flags:") || strings.HasPrefix(trimmed, "Columns:") || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if m := terseLine.FindStringSubmatch(line); m != nil && strings.Contains(m[3], "=") {
			flush()
			rec := parsePairs(m[3])
			applyFlags(rec, m[2])
			records = append(records, rec)
			continue
		}

		if m := colonLine.FindStringSubmatch(line); m != nil {
			if block == nil {
				block = types.RawRecord{}
			}
			block[m[1]] = unquote(strings.TrimSpace(m[2]))
		}
	}
	flush()
	return records
}

// parsePairs splits "a=1 b=two words c=3". A value runs until the next
// " key=" token, so values containing spaces survive.
func parsePairs(s string) types.RawRecord {
	rec := types.RawRecord{}
	locs := keyStart.FindAllStringSubmatchIndex(s, -1)
	for i, loc := range locs {
		key := s[loc[2]:loc[3]]
		valStart := loc[1]
		valEnd := len(s)
		if i+1 < len(locs) {
			valEnd = locs[i+1][0]
		}
		rec[key] = unquote(strings.TrimSpace(s[valStart:valEnd]))
	}
	return rec
}

func applyFlags(rec types.RawRecord, flags string) {
	for _, f := range flags {
		switch f {
		case 'R':
			rec["running"] = "true"
		case 'X':
			rec["disabled"] = "true"
		case 'D':
			rec["dynamic"] = "true"
		case 'I':
			rec["invalid"] = "true"
		}
	}
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
