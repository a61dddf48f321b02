package metainfo

import (
	"strings"

	"github.com/c2h5oh/datasize"
)

const (
	MinPieceLength = 16 * datasize.KB
	MaxPieceLength = 16 * datasize.MB

	pieceHashLen  = 20 // SHA-1
	piecesRootLen = 32 // SHA-256 merkle root (BEP 52)
)

// ValidPieceLength reports whether n is a power of two within
// [MinPieceLength, MaxPieceLength].
func ValidPieceLength(n int64) bool {
	return n >= int64(MinPieceLength) && n <= int64(MaxPieceLength) && n&(n-1) == 0
}

// Validate checks the invariants of the info dictionary and returns the first
// one violated as a *ValidationError.
func (info *Info) Validate() error {
	if !ValidPieceLength(info.PieceLength) {
		return invalid(ReasonPieceLength, "%d is not a power of two between %s and %s",
			info.PieceLength, MinPieceLength.HumanReadable(), MaxPieceLength.HumanReadable())
	}

	if info.Name == "" {
		return invalid(ReasonName, "name is empty")
	}
	if badComponent(info.Name) {
		return invalid(ReasonName, "%q is not a valid file name", info.Name)
	}

	layouts := 0
	if info.hasLength {
		layouts++
	}
	if info.Files != nil {
		layouts++
	}
	if info.FileTree != nil {
		layouts++
	}
	if layouts != 1 {
		return invalid(ReasonLayout, "want exactly one of length, files or file tree, got %d", layouts)
	}

	if info.FileTree == nil || len(info.Pieces) > 0 {
		if len(info.Pieces) == 0 {
			return invalid(ReasonPiecesEmpty, "")
		}
		if len(info.Pieces)%pieceHashLen != 0 {
			return invalid(ReasonPiecesLength, "got %d bytes", len(info.Pieces))
		}
	}

	switch {
	case info.hasLength:
		if info.Length < 0 {
			return invalid(ReasonFileLength, "length %d is negative", info.Length)
		}
	case info.Files != nil:
		return validateFiles(info.Files)
	default:
		return info.validateTree()
	}
	return nil
}

func validateFiles(files []FileEntry) error {
	if len(files) == 0 {
		return invalid(ReasonLayout, "files list is empty")
	}

	paths := make(map[string]struct{}, len(files))
	for i, f := range files {
		if f.Length <= 0 {
			return invalid(ReasonFileLength, "file %d has length %d", i, f.Length)
		}
		if len(f.Path) == 0 {
			return invalid(ReasonFilePath, "file %d has an empty path", i)
		}
		for _, c := range f.Path {
			if badComponent(c) {
				return invalid(ReasonFilePath, "file %d has path component %q", i, c)
			}
		}
		p := strings.Join(f.Path, "/")
		if _, dup := paths[p]; dup {
			return invalid(ReasonPathConflict, "%q appears twice", p)
		}
		paths[p] = struct{}{}
	}
	return checkDirConflicts(paths)
}

// checkDirConflicts rejects a file whose path is also used as a directory
// by another file, e.g. "a" and "a/b".
func checkDirConflicts(paths map[string]struct{}) error {
	for p := range paths {
		for i := strings.IndexByte(p, '/'); i >= 0; {
			if _, ok := paths[p[:i]]; ok {
				return invalid(ReasonPathConflict, "%q is both a file and a directory", p[:i])
			}
			next := strings.IndexByte(p[i+1:], '/')
			if next < 0 {
				break
			}
			i += next + 1
		}
	}
	return nil
}

func (info *Info) validateTree() error {
	if info.MetaVersion != 2 {
		return invalid(ReasonMetaVersion, "file tree requires meta version 2, got %d", info.MetaVersion)
	}
	if info.FileTree.IsFile {
		return invalid(ReasonFilePath, "file tree root must be a directory")
	}

	files := 0
	err := info.FileTree.walk(nil, func(path []string, node *FileTree) error {
		files++
		for _, c := range path {
			if badComponent(c) {
				return invalid(ReasonFilePath, "path component %q", c)
			}
		}
		if node.Length < 0 {
			return invalid(ReasonFileLength, "%s has length %d", strings.Join(path, "/"), node.Length)
		}
		if node.Length > 0 && len(node.PiecesRoot) != piecesRootLen {
			return invalid(ReasonPiecesRoot, "%s pieces root is %d bytes", strings.Join(path, "/"), len(node.PiecesRoot))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if files == 0 {
		return invalid(ReasonLayout, "file tree is empty")
	}
	return nil
}

func badComponent(c string) bool {
	return c == "" || c == "." || c == ".." || strings.ContainsAny(c, "/\\\x00")
}
