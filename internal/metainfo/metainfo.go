// Package metainfo parses .torrent files and derives their info-hash.
//
// Parsing keeps the raw bytes of the info dictionary next to the typed
// document: the info-hash is always the SHA-1 of those exact bytes, never of
// a re-encoded copy.
package metainfo

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jackpal/bencode-go"

	"github.com/fabricionaweb/pico-httptracker/internal/bittorrent"
)

// MetaInfo is a parsed .torrent document. It is immutable after Parse.
type MetaInfo struct {
	CreationDate time.Time
	Announce     string
	Comment      string
	CreatedBy    string
	AnnounceList [][]string
	InfoBytes    []byte // exact info span of the source
	Info         Info
	InfoHash     bittorrent.InfoHash
}

// Info is the info dictionary.
type Info struct {
	FileTree    *FileTree // v2 only
	Name        string
	Pieces      []byte // concatenated SHA-1 digests
	Files       []FileEntry
	PieceLength int64
	Length      int64 // single-file mode only
	MetaVersion int64
	Private     bool
	hasLength   bool
}

// FileEntry is one entry of a multi-file info dictionary.
type FileEntry struct {
	Path   []string
	Length int64
}

// FileTree is a node of a v2 (BEP 52) file tree. A node is either a file
// (IsFile) or a directory with Children.
type FileTree struct {
	Children   map[string]*FileTree
	PiecesRoot []byte
	Length     int64
	IsFile     bool
}

// ParseFile reads and parses a .torrent file from disk.
func ParseFile(path string) (*MetaInfo, error) {
	//nolint:gosec // Path is given by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read torrent file: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw .torrent bytes. It does not validate invariants; call
// Info.Validate for that.
func Parse(data []byte) (*MetaInfo, error) {
	end, err := scanValue(data, 0)
	if err != nil {
		return nil, err
	}
	if end != len(data) {
		return nil, decodeErrorf(end, "trailing data after root value")
	}

	span, err := InfoSpan(data)
	if err != nil {
		return nil, err
	}

	decoded, err := bencode.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Offset: -1, Msg: "bencode", Err: err}
	}
	root, ok := decoded.(map[string]any)
	if !ok {
		return nil, decodeErrorf(0, "root is not a dictionary")
	}

	m := &MetaInfo{InfoBytes: span}
	if err := m.decodeRoot(root); err != nil {
		return nil, err
	}
	m.InfoHash, err = ComputeInfoHash(data)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MetaInfo) decodeRoot(root map[string]any) error {
	var err error
	if m.Announce, err = optString(root, "announce"); err != nil {
		return err
	}
	if m.Comment, err = optString(root, "comment"); err != nil {
		return err
	}
	if m.CreatedBy, err = optString(root, "created by"); err != nil {
		return err
	}
	if v, ok := root["creation date"]; ok {
		ts, ok := v.(int64)
		if !ok {
			return fieldError("creation date", "not an integer")
		}
		m.CreationDate = time.Unix(ts, 0).UTC()
	}

	if v, ok := root["announce-list"]; ok {
		tiers, ok := v.([]any)
		if !ok {
			return fieldError("announce-list", "not a list")
		}
		m.AnnounceList = make([][]string, 0, len(tiers))
		for i, tier := range tiers {
			urls, ok := tier.([]any)
			if !ok {
				return fieldError("announce-list", "tier %d is not a list", i)
			}
			list := make([]string, 0, len(urls))
			for _, u := range urls {
				s, ok := u.(string)
				if !ok {
					return fieldError("announce-list", "tier %d has a non-string url", i)
				}
				list = append(list, s)
			}
			m.AnnounceList = append(m.AnnounceList, list)
		}
	}

	infoVal, ok := root["info"]
	if !ok {
		return errNoInfo()
	}
	infoDict, ok := infoVal.(map[string]any)
	if !ok {
		return fieldError("info", "not a dictionary")
	}
	return m.Info.decode(infoDict)
}

func (info *Info) decode(d map[string]any) error {
	pl, ok := d["piece length"]
	if !ok {
		return fieldError("piece length", "missing")
	}
	if info.PieceLength, ok = pl.(int64); !ok {
		return fieldError("piece length", "not an integer")
	}

	var err error
	if info.Name, err = optString(d, "name"); err != nil {
		return err
	}
	pieces, err := optString(d, "pieces")
	if err != nil {
		return err
	}
	info.Pieces = []byte(pieces)

	if v, ok := d["length"]; ok {
		if info.Length, ok = v.(int64); !ok {
			return fieldError("length", "not an integer")
		}
		info.hasLength = true
	}
	if v, ok := d["private"]; ok {
		p, ok := v.(int64)
		if !ok {
			return fieldError("private", "not an integer")
		}
		info.Private = p == 1
	}
	if v, ok := d["meta version"]; ok {
		if info.MetaVersion, ok = v.(int64); !ok {
			return fieldError("meta version", "not an integer")
		}
	}

	if v, ok := d["files"]; ok {
		list, ok := v.([]any)
		if !ok {
			return fieldError("files", "not a list")
		}
		info.Files = make([]FileEntry, 0, len(list))
		for i, f := range list {
			entry, err := decodeFileEntry(f)
			if err != nil {
				return fieldError("files", "entry %d: %v", i, err)
			}
			info.Files = append(info.Files, entry)
		}
	}

	if v, ok := d["file tree"]; ok {
		dir, ok := v.(map[string]any)
		if !ok {
			return fieldError("file tree", "not a dictionary")
		}
		tree, err := decodeFileTree(dir)
		if err != nil {
			return fieldError("file tree", "%v", err)
		}
		info.FileTree = tree
	}
	return nil
}

func decodeFileEntry(v any) (FileEntry, error) {
	var e FileEntry
	d, ok := v.(map[string]any)
	if !ok {
		return e, fmt.Errorf("not a dictionary")
	}
	l, ok := d["length"].(int64)
	if !ok {
		return e, fmt.Errorf("length missing or not an integer")
	}
	e.Length = l

	parts, ok := d["path"].([]any)
	if !ok {
		return e, fmt.Errorf("path missing or not a list")
	}
	e.Path = make([]string, 0, len(parts))
	for _, p := range parts {
		s, ok := p.(string)
		if !ok {
			return e, fmt.Errorf("path component is not a string")
		}
		e.Path = append(e.Path, s)
	}
	return e, nil
}

// decodeFileTree walks a BEP 52 tree. A file is a dictionary whose only key is
// the empty string, mapping to {length, pieces root}.
func decodeFileTree(d map[string]any) (*FileTree, error) {
	if leaf, ok := d[""]; ok && len(d) == 1 {
		props, ok := leaf.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("file properties are not a dictionary")
		}
		l, ok := props["length"].(int64)
		if !ok {
			return nil, fmt.Errorf("file length missing or not an integer")
		}
		node := &FileTree{IsFile: true, Length: l}
		if root, ok := props["pieces root"]; ok {
			s, ok := root.(string)
			if !ok {
				return nil, fmt.Errorf("pieces root is not a string")
			}
			node.PiecesRoot = []byte(s)
		}
		return node, nil
	}

	node := &FileTree{Children: make(map[string]*FileTree, len(d))}
	for name, v := range d {
		child, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%q is not a dictionary", name)
		}
		sub, err := decodeFileTree(child)
		if err != nil {
			return nil, fmt.Errorf("%s/%w", name, err)
		}
		node.Children[name] = sub
	}
	return node, nil
}

func optString(d map[string]any, key string) (string, error) {
	v, ok := d[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fieldError(key, "not a string")
	}
	return s, nil
}

// IsPrivate reports whether the torrent sets the private flag (BEP 27).
func (m *MetaInfo) IsPrivate() bool {
	return m.Info.Private
}

// NumPieces returns the number of v1 piece hashes.
func (m *MetaInfo) NumPieces() int {
	return len(m.Info.Pieces) / 20
}

// AnnounceURLs returns the primary announce URL followed by every tier entry
// of the announce-list, without duplicates or empty strings, in order.
func (m *MetaInfo) AnnounceURLs() []string {
	seen := make(map[string]struct{})
	var urls []string

	add := func(u string) {
		if u == "" {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	add(m.Announce)
	for _, tier := range m.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}
	return urls
}

// walk visits every file of a v2 tree in lexical path order.
func (t *FileTree) walk(prefix []string, fn func(path []string, node *FileTree) error) error {
	if t.IsFile {
		return fn(prefix, t)
	}
	names := make([]string, 0, len(t.Children))
	for name := range t.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := append(append([]string(nil), prefix...), name)
		if err := t.Children[name].walk(p, fn); err != nil {
			return err
		}
	}
	return nil
}
