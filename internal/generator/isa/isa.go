// Package isa derives the minimal RISC-V march/mabi a generated test needs
// from the instruction-distribution annotations the generator embeds in it.
package isa

import (
	"regexp"
	"strconv"
	"strings"
)

// canonicalOrder is the precedence used when assembling the march string.
const canonicalOrder = "imafdc"

var annotationPattern = regexp.MustCompile(`(?m)^#\s*rel_(.*?)\s*$`)

// Features is the result of scanning one assembly file.
type Features struct {
	Set   []string
	XLEN  int
	March string
	Mabi  string
}

// Has reports whether ext is part of the feature set.
func (f Features) Has(ext string) bool {
	for _, e := range f.Set {
		if e == ext {
			return true
		}
	}
	return false
}

// Extract scans asm for "# rel_<ext>[.<group>]:<count>" lines.
// Annotations with a zero count, a non-numeric count or an unknown
// extension token are ignored. The base integer set is always present.
func Extract(asm string) Features {
	present := map[byte]bool{'i': true}
	seen32, seen64 := false, false

	for _, m := range annotationPattern.FindAllStringSubmatch(asm, -1) {
		token, count, ok := splitAnnotation(m[1])
		if !ok || count == 0 {
			continue
		}
		width, exts, ok := parseToken(token)
		if !ok {
			continue
		}
		switch width {
		case 32:
			seen32 = true
		case 64:
			seen64 = true
		}
		for i := 0; i < len(exts); i++ {
			present[exts[i]] = true
		}
	}

	xlen := 64
	if seen32 && !seen64 {
		xlen = 32
	}

	var set []string
	var b strings.Builder
	for i := 0; i < len(canonicalOrder); i++ {
		if present[canonicalOrder[i]] {
			set = append(set, string(canonicalOrder[i]))
			b.WriteByte(canonicalOrder[i])
		}
	}

	f := Features{
		Set:   set,
		XLEN:  xlen,
		March: "rv" + strconv.Itoa(xlen) + b.String(),
	}
	switch {
	case xlen == 64:
		f.Mabi = "lp64"
	case present['d']:
		f.Mabi = "ilp32d"
	default:
		f.Mabi = "ilp32"
	}
	return f
}

// splitAnnotation splits "m.foo:3" into ("m", 3).
func splitAnnotation(body string) (string, int, bool) {
	head, countText, ok := strings.Cut(body, ":")
	if !ok {
		return "", 0, false
	}
	count, err := strconv.Atoi(strings.TrimSpace(countText))
	if err != nil || count < 0 {
		return "", 0, false
	}
	token, _, _ := strings.Cut(head, ".")
	return strings.ToLower(strings.TrimSpace(token)), count, true
}

// parseToken accepts "m", "fd", "rvc", "rv32i" or "rv64c" style tokens.
func parseToken(token string) (int, string, bool) {
	width := 0
	switch {
	case strings.HasPrefix(token, "rv32"):
		width, token = 32, token[4:]
	case strings.HasPrefix(token, "rv64"):
		width, token = 64, token[4:]
	case strings.HasPrefix(token, "rv"):
		token = token[2:]
	}
	if token == "" {
		return 0, "", false
	}
	for i := 0; i < len(token); i++ {
		if !strings.ContainsRune(canonicalOrder, rune(token[i])) {
			return 0, "", false
		}
	}
	return width, token, true
}
