package symbolicate

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

const base64Digits = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// segment is one decoded mapping. source and name are -1 when absent.
type segment struct {
	genColumn int
	source    int
	line      int
	column    int
	name      int
}

// mappingIndex holds the segments of a source map grouped by generated
// line, sorted by generated column.
type mappingIndex struct {
	sources []string
	names   []string
	lines   [][]segment
}

type rawSourceMap struct {
	SourceRoot string            `json:"sourceRoot"`
	Sources    []string          `json:"sources"`
	Names      []string          `json:"names"`
	Mappings   string            `json:"mappings"`
	Sections   []json.RawMessage `json:"sections"`
}

// newMappingIndex decodes the mappings of a plain source map. It returns nil
// for index maps made of sections.
func newMappingIndex(data []byte) (*mappingIndex, error) {
	var raw rawSourceMap
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw.Sections) > 0 {
		return nil, nil
	}

	idx := &mappingIndex{
		sources: make([]string, len(raw.Sources)),
		names:   raw.Names,
	}
	for i, src := range raw.Sources {
		idx.sources[i] = withSourceRoot(raw.SourceRoot, src)
	}

	var source, line, column, name int
	for _, group := range strings.Split(raw.Mappings, ";") {
		var segs []segment
		genColumn := 0
		for _, field := range strings.Split(group, ",") {
			if field == "" {
				continue
			}
			v, err := decodeVLQ(field)
			if err != nil {
				return nil, err
			}
			if len(v) != 1 && len(v) != 4 && len(v) != 5 {
				return nil, fmt.Errorf("mapping segment %q has %d fields", field, len(v))
			}
			genColumn += v[0]
			seg := segment{genColumn: genColumn, source: -1, name: -1}
			if len(v) >= 4 {
				source += v[1]
				line += v[2]
				column += v[3]
				seg.source, seg.line, seg.column = source, line, column
			}
			if len(v) == 5 {
				name += v[4]
				seg.name = name
			}
			segs = append(segs, seg)
		}
		sort.SliceStable(segs, func(i, j int) bool { return segs[i].genColumn < segs[j].genColumn })
		idx.lines = append(idx.lines, segs)
	}
	return idx, nil
}

// lookup returns the original position of a generated one. line is 1-based
// and column 0-based. Only segments on the same generated line match: the
// last one starting at or before column.
func (m *mappingIndex) lookup(line, column int) (source, name string, origLine, origColumn int, ok bool) {
	if line < 1 || line > len(m.lines) {
		return
	}
	segs := m.lines[line-1]
	i := sort.Search(len(segs), func(i int) bool { return segs[i].genColumn > column }) - 1
	if i < 0 {
		return
	}
	seg := segs[i]
	if seg.source < 0 || seg.source >= len(m.sources) {
		return
	}
	if seg.name >= 0 && seg.name < len(m.names) {
		name = m.names[seg.name]
	}
	return m.sources[seg.source], name, seg.line + 1, seg.column, true
}

// withSourceRoot resolves a source against the map's sourceRoot the same
// way sourcemap.Parse does for a map without a URL.
func withSourceRoot(root, source string) string {
	if root == "" || path.IsAbs(source) {
		return source
	}
	if u, err := url.Parse(source); err == nil && u.IsAbs() {
		return source
	}
	if u, err := url.Parse(root); err == nil && u.IsAbs() {
		u.Path = path.Join(u.Path, source)
		return u.String()
	}
	return path.Join(root, source)
}

// decodeVLQ decodes the base64 VLQ values of one mapping segment.
func decodeVLQ(field string) ([]int, error) {
	var out []int
	value, shift := 0, 0
	for i := 0; i < len(field); i++ {
		digit := strings.IndexByte(base64Digits, field[i])
		if digit < 0 {
			return nil, fmt.Errorf("invalid character %q in mappings", field[i])
		}
		value += (digit & 31) << shift
		if digit&32 != 0 {
			shift += 5
			if shift > 30 {
				return nil, fmt.Errorf("mapping value in %q overflows", field)
			}
			continue
		}
		if value&1 != 0 {
			out = append(out, -(value >> 1))
		} else {
			out = append(out, value>>1)
		}
		value, shift = 0, 0
	}
	if shift != 0 {
		return nil, fmt.Errorf("truncated mapping segment %q", field)
	}
	return out, nil
}
