package metainfo

import (
	"path"
	"strings"
)

// FileSpan places one file of the torrent inside the concatenated content.
type FileSpan struct {
	Path   string // slash separated, rooted at the torrent name
	Length int64
	Offset int64
}

// TotalLength returns the size of the content described by the info dictionary.
func (m *MetaInfo) TotalLength() int64 {
	var total int64
	for _, f := range m.Layout() {
		total += f.Length
	}
	return total
}

// Layout returns every file with its byte offset.
// Single-file torrents yield one span named after the torrent; multi-file paths
// are sanitized and joined under the name.
func (m *MetaInfo) Layout() []FileSpan {
	info := &m.Info
	name := sanitizeComponent(info.Name)

	switch {
	case info.hasLength:
		return []FileSpan{{Path: name, Length: info.Length}}

	case info.Files != nil:
		spans := make([]FileSpan, 0, len(info.Files))
		var offset int64
		for _, f := range info.Files {
			spans = append(spans, FileSpan{Path: joinSanitized(name, f.Path), Length: f.Length, Offset: offset})
			offset += f.Length
		}
		return spans

	case info.FileTree != nil:
		var spans []FileSpan
		var offset int64
		//nolint:errcheck // callback never fails
		_ = info.FileTree.walk(nil, func(p []string, node *FileTree) error {
			spans = append(spans, FileSpan{Path: joinSanitized(name, p), Length: node.Length, Offset: offset})
			offset += node.Length
			return nil
		})
		return spans
	}
	return nil
}

func joinSanitized(name string, parts []string) string {
	elems := make([]string, 0, len(parts)+1)
	elems = append(elems, name)
	for _, p := range parts {
		if c := sanitizeComponent(p); c != "" {
			elems = append(elems, c)
		}
	}
	return path.Join(elems...)
}

// sanitizeComponent drops traversal components and flattens separators so a
// component can never escape its directory.
func sanitizeComponent(c string) string {
	c = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\':
			return '_'
		case 0:
			return -1
		}
		return r
	}, c)
	if c == "." || c == ".." {
		return ""
	}
	return c
}
