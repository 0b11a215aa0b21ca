package phonemize

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type symbolPair struct {
	from string
	to   string
}

// SymbolMap rewrites engine symbols into a target alphabet. Entries are
// applied in declaration order; a nil map performs no rewriting.
type SymbolMap struct {
	pairs []symbolPair
}

// SymbolMapFile returns the conventional mapping file name for a language.
func SymbolMapFile(dir, language string) string {
	return filepath.Join(dir, fmt.Sprintf("sampa_%s.txt", language))
}

// LoadSymbolMapFile reads the mapping for language from dir. A missing file
// is not an error: it yields a nil map. Languages that would resolve outside
// dir are rejected.
func LoadSymbolMapFile(dir, language string) (*SymbolMap, error) {
	if language == "" || strings.ContainsAny(language, `/\`) || strings.Contains(language, "..") {
		return nil, fmt.Errorf("%w: language %q is not a symbol map name", ErrInvalidOption, language)
	}
	path := SymbolMapFile(dir, language)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open symbol map: %w", err)
	}
	defer f.Close()

	m, err := LoadSymbolMap(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// LoadSymbolMap parses whitespace separated "source target" lines. Blank lines
// are skipped. A repeated source symbol keeps its first position and takes the
// last target.
func LoadSymbolMap(r io.Reader) (*SymbolMap, error) {
	m := &SymbolMap{}
	index := make(map[string]int)
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: line %d: expected 2 fields, got %d: %q", ErrSymbolMapFormat, lineNum, len(fields), line)
		}
		if i, ok := index[fields[0]]; ok {
			m.pairs[i].to = fields[1]
			continue
		}
		index[fields[0]] = len(m.pairs)
		m.pairs = append(m.pairs, symbolPair{from: fields[0], to: fields[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read symbol map: %w", err)
	}
	return m, nil
}

// Len reports the number of mapping entries.
func (m *SymbolMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.pairs)
}

// Apply rewrites every occurrence of each source symbol, entry by entry.
func (m *SymbolMap) Apply(token string) string {
	if m == nil {
		return token
	}
	for _, p := range m.pairs {
		token = strings.ReplaceAll(token, p.from, p.to)
	}
	return token
}
