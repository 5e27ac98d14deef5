package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}

// ParseAddArgs extracts a channel reference and an optional display name.
// Format: <ref> [name...]
func ParseAddArgs(args string) (ref, name string, err error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return "", "", fmt.Errorf("usage: /add <channel_id|@username|feed_url> [name]")
	}
	return parts[0], strings.Join(parts[1:], " "), nil
}

// ParseIDAndRest splits "<id> <rest...>" where rest keeps its inner spacing.
// It backs /kw and /test whose payload may contain several spaces.
func ParseIDAndRest(args, usage string) (int64, string, error) {
	s := strings.TrimSpace(args)
	idStr, rest, _ := strings.Cut(s, " ")
	if idStr == "" {
		return 0, "", fmt.Errorf("usage: %s", usage)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid ID %q", idStr)
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return 0, "", fmt.Errorf("usage: %s", usage)
	}
	return id, rest, nil
}
