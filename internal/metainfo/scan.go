package metainfo

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // G505: SHA-1 is what BEP 3 defines for the info-hash
	"strconv"

	"github.com/fabricionaweb/pico-httptracker/internal/bittorrent"
)

// Bencode token scanner over the raw input.
// It never builds values, it only finds where each value ends, so the
// info dictionary can be hashed exactly as it appears in the file.

const (
	maxStringLen = 1 << 30 // no sane torrent carries a 1 GiB string
	maxDepth     = 512
)

// stringBounds returns the payload bounds of the string token at pos.
func stringBounds(data []byte, pos int) (start, end int, err error) {
	colon := pos
	for colon < len(data) && data[colon] != ':' {
		if data[colon] < '0' || data[colon] > '9' {
			return 0, 0, decodeErrorf(colon, "non-numeric string length prefix %q", data[colon])
		}
		colon++
	}
	if colon == pos {
		return 0, 0, decodeErrorf(pos, "missing string length")
	}
	if colon >= len(data) {
		return 0, 0, decodeErrorf(pos, "unterminated string length")
	}
	if data[pos] == '0' && colon-pos > 1 {
		return 0, 0, decodeErrorf(pos, "string length with leading zero")
	}

	n, err := strconv.Atoi(string(data[pos:colon]))
	if err != nil || n > maxStringLen {
		return 0, 0, decodeErrorf(pos, "string length out of range")
	}

	start = colon + 1
	end = start + n
	if end > len(data) {
		return 0, 0, decodeErrorf(pos, "unterminated string (want %d bytes, have %d)", n, len(data)-start)
	}
	return start, end, nil
}

// scanInt returns the position after the integer token at pos ('i' included).
func scanInt(data []byte, pos int) (int, error) {
	i := pos + 1
	if i < len(data) && data[i] == '-' {
		i++
	}
	digits := i
	for i < len(data) && data[i] >= '0' && data[i] <= '9' {
		i++
	}
	if i >= len(data) {
		return 0, decodeErrorf(pos, "unterminated integer")
	}
	if data[i] != 'e' {
		return 0, decodeErrorf(i, "invalid byte %q in integer", data[i])
	}
	if i == digits {
		return 0, decodeErrorf(pos, "empty integer")
	}
	if data[digits] == '0' && (i-digits > 1 || digits > pos+1) {
		return 0, decodeErrorf(pos, "integer with leading zero or negative zero")
	}
	return i + 1, nil
}

// scanValue returns the position right after the value starting at pos.
// Dictionary keys must be strictly ascending (BEP 3), so no key repeats and
// the decoded document is always the one that was hashed.
func scanValue(data []byte, pos int) (int, error) {
	return scanValueAt(data, pos, 0)
}

func scanValueAt(data []byte, pos, depth int) (int, error) {
	if pos >= len(data) {
		return 0, decodeErrorf(pos, "unexpected end of input")
	}

	switch c := data[pos]; {
	case c == 'i':
		return scanInt(data, pos)
	case c >= '0' && c <= '9':
		_, end, err := stringBounds(data, pos)
		return end, err
	case c == 'l':
		if depth >= maxDepth {
			return 0, decodeErrorf(pos, "nesting deeper than %d", maxDepth)
		}
		pos++
		for {
			if pos >= len(data) {
				return 0, decodeErrorf(pos, "unterminated list or dictionary")
			}
			if data[pos] == 'e' {
				return pos + 1, nil
			}
			end, err := scanValueAt(data, pos, depth+1)
			if err != nil {
				return 0, err
			}
			pos = end
		}
	case c == 'd':
		if depth >= maxDepth {
			return 0, decodeErrorf(pos, "nesting deeper than %d", maxDepth)
		}
		return scanDict(data, pos, depth, nil)
	case c == 'e':
		return 0, decodeErrorf(pos, "unexpected end marker")
	default:
		return 0, decodeErrorf(pos, "invalid token %q", c)
	}
}

// scanDict walks the dictionary at pos and returns the position after it.
// visit, if set, is called with every key and the bounds of its value.
func scanDict(data []byte, pos, depth int, visit func(key string, start, end int)) (int, error) {
	var prev []byte
	pos++
	for i := 0; ; i++ {
		if pos >= len(data) {
			return 0, decodeErrorf(pos, "unterminated list or dictionary")
		}
		if data[pos] == 'e' {
			return pos + 1, nil
		}
		if data[pos] < '0' || data[pos] > '9' {
			return 0, decodeErrorf(pos, "dictionary key is not a string")
		}

		ks, ke, err := stringBounds(data, pos)
		if err != nil {
			return 0, err
		}
		key := data[ks:ke]
		if i > 0 {
			switch cmp := bytes.Compare(prev, key); {
			case cmp == 0:
				return 0, decodeErrorf(pos, "duplicate dictionary key %q", key)
			case cmp > 0:
				return 0, decodeErrorf(pos, "dictionary key %q out of order", key)
			}
		}
		prev = key

		end, err := scanValueAt(data, ke, depth+1)
		if err != nil {
			return 0, err
		}
		if visit != nil {
			visit(string(key), ke, end)
		}
		pos = end
	}
}

// InfoSpan returns the exact bytes of the top-level info dictionary inside raw.
// The returned slice aliases raw.
func InfoSpan(raw []byte) ([]byte, error) {
	if len(raw) == 0 || raw[0] != 'd' {
		return nil, decodeErrorf(0, "root is not a dictionary")
	}

	start, end := -1, -1
	if _, err := scanDict(raw, 0, 0, func(key string, s, e int) {
		if key == "info" {
			start, end = s, e
		}
	}); err != nil {
		return nil, err
	}
	if start < 0 {
		return nil, errNoInfo()
	}
	if raw[start] != 'd' {
		return nil, decodeErrorf(start, "info is not a dictionary")
	}
	return raw[start:end], nil
}

// ComputeInfoHash hashes the info dictionary span of the unmodified input.
func ComputeInfoHash(raw []byte) (bittorrent.InfoHash, error) {
	span, err := InfoSpan(raw)
	if err != nil {
		return bittorrent.InfoHash{}, err
	}
	return sha1.Sum(span), nil //nolint:gosec // see import
}
