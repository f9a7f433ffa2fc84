package models

import (
	"encoding/base64"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/dmitrijs2005/gophdrive/internal/common"
)

// NormalizeFilename cleans a drive path and strips the leading slash, so
// "/a//b/../c" and "a/c" name the same file.
func NormalizeFilename(name string) (string, error) {
	cleaned := strings.TrimLeft(path.Clean("/"+name), "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("%w: empty filename", common.ErrValidation)
	}
	return cleaned, nil
}

// EncodeFilename maps a normalised filename to a single key component.
func EncodeFilename(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

// DecodeFilename reverses EncodeFilename.
func DecodeFilename(encoded string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: bad encoded filename: %v", common.ErrValidation, err)
	}
	return string(b), nil
}

// FileRecord is a logical file in a drive: its latest version and the
// versions it superseded, oldest first.
type FileRecord struct {
	driveUID string
	filename string
	latest   VersionEntry
	history  []VersionEntry
}

// NewFileRecord creates a record for driveUID/filename. first may be a null
// version, giving a null record that is filled with AddVersion.
func NewFileRecord(driveUID, filename string, first VersionEntry) (*FileRecord, error) {
	if driveUID == "" || strings.Contains(driveUID, "/") {
		return nil, fmt.Errorf("%w: invalid drive uid %q", common.ErrValidation, driveUID)
	}
	name, err := NormalizeFilename(filename)
	if err != nil {
		return nil, err
	}
	return &FileRecord{driveUID: driveUID, filename: name, latest: first}, nil
}

func (f *FileRecord) DriveUID() string        { return f.driveUID }
func (f *FileRecord) Filename() string        { return f.filename }
func (f *FileRecord) EncodedFilename() string { return EncodeFilename(f.filename) }
func (f *FileRecord) Latest() VersionEntry    { return f.latest }

// IsNull reports whether the record has no version yet.
func (f *FileRecord) IsNull() bool {
	return f == nil || f.latest.IsNull()
}

// AddVersion records v. A newer version becomes latest and pushes the old
// latest into history; an older one is slotted into history, so latest never
// goes backwards. Adding a version already known is a no-op.
func (f *FileRecord) AddVersion(v VersionEntry) error {
	if v.IsNull() {
		return fmt.Errorf("%w: cannot add a null version", common.ErrValidation)
	}
	if f.has(v.fileUID) {
		return nil
	}
	if f.latest.IsNull() {
		f.latest = v
		return nil
	}
	if f.latest.Before(v) {
		f.insertHistory(f.latest)
		f.latest = v
		return nil
	}
	f.insertHistory(v)
	return nil
}

func (f *FileRecord) has(fileUID string) bool {
	if f.latest.fileUID == fileUID {
		return true
	}
	for _, h := range f.history {
		if h.fileUID == fileUID {
			return true
		}
	}
	return false
}

func (f *FileRecord) insertHistory(v VersionEntry) {
	i := sort.Search(len(f.history), func(i int) bool { return v.Before(f.history[i]) })
	f.history = append(f.history, VersionEntry{})
	copy(f.history[i+1:], f.history[i:])
	f.history[i] = v
}

// History returns superseded versions, oldest first.
func (f *FileRecord) History() []VersionEntry {
	out := make([]VersionEntry, len(f.history))
	copy(out, f.history)
	return out
}

// Versions returns every version, oldest first, latest last.
func (f *FileRecord) Versions() []VersionEntry {
	if f.IsNull() {
		return []VersionEntry{}
	}
	out := make([]VersionEntry, 0, len(f.history)+1)
	out = append(out, f.history...)
	return append(out, f.latest)
}

// Version returns the version picked by sel.
func (f *FileRecord) Version(sel VersionSelector) (VersionEntry, error) {
	if f.IsNull() {
		return VersionEntry{}, fmt.Errorf("%w: %s has no versions", common.ErrMissingVersion, f.filename)
	}
	if sel.IsLatest() {
		return f.latest, nil
	}
	if sel.Matches(f.latest) {
		return f.latest, nil
	}
	for i := len(f.history) - 1; i >= 0; i-- {
		if sel.Matches(f.history[i]) {
			return f.history[i], nil
		}
	}
	return VersionEntry{}, fmt.Errorf("%w: %s@%s", common.ErrMissingVersion, f.filename, sel)
}
