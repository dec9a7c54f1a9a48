package client

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	maxNameWords = 10
	maxNameLen   = 60
)

var (
	nonSlug   = regexp.MustCompile(`[^a-z0-9]+`)
	extension = regexp.MustCompile(`(?i)\.[a-z0-9]{1,5}$`)

	// blocked words never appear in generated names.
	blocked = map[string]struct{}{
		"fuck": {}, "shit": {}, "ass": {}, "bitch": {}, "slur": {},
	}
)

// Slug lowercases s into a hyphenated ASCII file stem, dropping blocked
// words.
func Slug(s string) string {
	s = nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	var parts []string
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == '-' }) {
		if _, ok := blocked[p]; !ok {
			parts = append(parts, p)
		}
	}
	if len(parts) > maxNameWords {
		parts = parts[:maxNameWords]
	}
	out := strings.Join(parts, "-")
	if len(out) > maxNameLen {
		out = strings.TrimRight(out[:maxNameLen], "-")
	}
	if out == "" {
		return "image"
	}
	return out
}

// Namer hands out unique file names within one directory.
type Namer struct {
	taken map[string]struct{}
}

func NewNamer(existing []string) *Namer {
	n := &Namer{taken: make(map[string]struct{}, len(existing))}
	for _, name := range existing {
		n.taken[strings.ToLower(name)] = struct{}{}
	}
	return n
}

// Name returns suggested as a slug carrying the extension of original,
// suffixed -001, -002 ... when the name is already taken.
func (n *Namer) Name(original, suggested string) string {
	ext := strings.ToLower(filepath.Ext(original))
	stem := Slug(extension.ReplaceAllString(suggested, ""))

	name := stem + ext
	for i := 1; ; i++ {
		if _, ok := n.taken[name]; !ok {
			break
		}
		name = fmt.Sprintf("%s-%03d%s", stem, i, ext)
	}
	n.taken[name] = struct{}{}
	return name
}
