package miner

import (
	"strconv"
	"strings"
)

// MajorVersion returns the leading major number of a RouterOS version
// string such as "7.14.2 (stable)", or 0 if it cannot be read.
func MajorVersion(version string) int {
	version = strings.TrimSpace(version)
	end := 0
	for end < len(version) && version[end] >= '0' && version[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(version[:end])
	if err != nil {
		return 0
	}
	return n
}

// wirelessPaths returns registration-table candidates, most likely first.
// Unknown versions get the v7 order, which still ends with the legacy menu.
func wirelessPaths(major int) []string {
	if major == 6 {
		return []string{"/interface/wireless/registration-table"}
	}
	return []string{
		"/interface/wifiwave2/registration-table",
		"/interface/wifi/registration-table",
		"/interface/wireless/registration-table",
	}
}

func bgpPaths(major int) []string {
	if major == 6 {
		return []string{"/routing/bgp/peer", "/routing/bgp/connection"}
	}
	return []string{"/routing/bgp/connection", "/routing/bgp/peer"}
}

func parseUint(s string) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// parseFloat reads "7", "7%", "24.1V" or "41C". Empty input yields nil.
func parseFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "%VvCc ")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// parseBytes reads raw byte counts from the API and "220.4MiB" style
// values from the CLI.
func parseBytes(s string) *uint64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	mult := 1.0
	for _, u := range []struct {
		suffix string
		mult   float64
	}{{"GiB", 1 << 30}, {"MiB", 1 << 20}, {"KiB", 1 << 10}} {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSuffix(s, u.suffix)
			mult = u.mult
			break
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	n := uint64(f * mult)
	return &n
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true
	}
	return false
}
