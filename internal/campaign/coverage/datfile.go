package coverage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

const (
	datHeaderPrefix = "# SystemC::Coverage-"
	datHeader       = "# SystemC::Coverage-3"

	fieldSep = "\x01"
	valueSep = "\x02"
)

// Database is a parsed Verilator coverage.dat file: coverage point key to
// hit count.
type Database struct {
	Points map[string]uint64
}

// ParseDatFile reads a coverage.dat file.
func ParseDatFile(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseDat(f)
}

// ParseDat reads the coverage.dat format. Anything other than comments,
// blank lines and "C '<key>' <count>" records is rejected.
func ParseDat(r io.Reader) (*Database, error) {
	db := &Database{Points: make(map[string]uint64)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	sawHeader := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !sawHeader {
			if !strings.HasPrefix(line, datHeaderPrefix) {
				return nil, fmt.Errorf("line %d: missing %q header", lineNo, datHeader)
			}
			sawHeader = true
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, count, err := parseRecord(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		db.Points[key] += count
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, fmt.Errorf("empty coverage database")
	}
	return db, nil
}

func parseRecord(line string) (string, uint64, error) {
	if !strings.HasPrefix(line, "C '") {
		return "", 0, fmt.Errorf("unexpected record %q", truncate(line, 40))
	}
	end := strings.LastIndex(line, "' ")
	if end < 3 {
		return "", 0, fmt.Errorf("unterminated key")
	}
	count, err := strconv.ParseUint(strings.TrimSpace(line[end+2:]), 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("bad count: %w", err)
	}
	return line[3:end], count, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Keys returns the point keys in lexical order.
func (db *Database) Keys() []string {
	keys := make([]string, 0, len(db.Points))
	for k := range db.Points {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Covered counts points with a non-zero hit count.
func (db *Database) Covered() int {
	n := 0
	for _, c := range db.Points {
		if c > 0 {
			n++
		}
	}
	return n
}

// WriteTo writes the database in coverage.dat format with sorted keys.
func (db *Database) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64
	n, err := fmt.Fprintln(bw, datHeader)
	written += int64(n)
	if err != nil {
		return written, err
	}
	for _, k := range db.Keys() {
		n, err := fmt.Fprintf(bw, "C '%s' %d\n", k, db.Points[k])
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}

// PointInfo is the decoded form of a coverage point key.
type PointInfo struct {
	Kind      string
	File      string
	Line      string
	Hierarchy string
	Comment   string
}

// DecodeKey splits a point key into its named fields.
func DecodeKey(key string) PointInfo {
	var info PointInfo
	for _, field := range strings.Split(key, fieldSep) {
		name, value, ok := strings.Cut(field, valueSep)
		if !ok {
			continue
		}
		switch name {
		case "page":
			info.Kind, _, _ = strings.Cut(value, "/")
		case "f":
			info.File = value
		case "l":
			info.Line = value
		case "h":
			info.Hierarchy = value
		case "o":
			info.Comment = value
		}
	}
	if info.Kind == "" {
		info.Kind = "other"
	}
	return info
}

// EncodeKey builds a point key from its fields. Used to produce fixtures
// and synthetic points.
func EncodeKey(info PointInfo) string {
	parts := []string{
		"f" + valueSep + info.File,
		"l" + valueSep + info.Line,
		"page" + valueSep + info.Kind + "/" + info.Hierarchy,
		"o" + valueSep + info.Comment,
		"h" + valueSep + info.Hierarchy,
	}
	return fieldSep + strings.Join(parts, fieldSep)
}
