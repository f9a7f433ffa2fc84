package models

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/timex"
	"github.com/google/uuid"
)

// ChecksumLength is the length of a hex SHA-256 checksum.
const ChecksumLength = 64

// VersionEntry is the metadata of one uploaded version of a file. All fields
// are fixed at construction; the zero value is a null version.
type VersionEntry struct {
	fileUID   string
	size      int64
	checksum  string
	uploader  string
	createdAt time.Time
	acl       ACLOverrides
}

// VersionParams carries the fields of a VersionEntry.
type VersionParams struct {
	FileUID      string
	Size         int64
	Checksum     string
	UploaderGUID string
	CreatedAt    time.Time
	ACL          ACLOverrides
}

// NewVersionEntry validates p and builds the version from it.
func NewVersionEntry(p VersionParams) (VersionEntry, error) {
	if p.FileUID == "" {
		return VersionEntry{}, fmt.Errorf("%w: version needs a file uid", common.ErrValidation)
	}
	if p.Size < 0 {
		return VersionEntry{}, fmt.Errorf("%w: negative size %d", common.ErrValidation, p.Size)
	}
	if err := ValidateChecksum(p.Checksum); err != nil {
		return VersionEntry{}, err
	}
	if p.UploaderGUID == "" {
		return VersionEntry{}, fmt.Errorf("%w: version needs an uploader", common.ErrValidation)
	}
	if p.CreatedAt.IsZero() {
		return VersionEntry{}, fmt.Errorf("%w: version needs a creation time", common.ErrValidation)
	}
	for user, rule := range p.ACL {
		if user == "" {
			return VersionEntry{}, fmt.Errorf("%w: acl override for empty user", common.ErrValidation)
		}
		if _, ok := aclNames[rule]; !ok {
			return VersionEntry{}, fmt.Errorf("%w: acl override %v for %s", common.ErrValidation, rule, user)
		}
	}

	return VersionEntry{
		fileUID:   p.FileUID,
		size:      p.Size,
		checksum:  p.Checksum,
		uploader:  p.UploaderGUID,
		createdAt: p.CreatedAt.UTC(),
		acl:       p.ACL.Clone(),
	}, nil
}

// CreateVersion builds a version for freshly uploaded content, allocating a
// new file uid.
func CreateVersion(size int64, checksum, uploaderGUID string, acl ACLOverrides, now time.Time) (VersionEntry, error) {
	return NewVersionEntry(VersionParams{
		FileUID:      uuid.NewString(),
		Size:         size,
		Checksum:     checksum,
		UploaderGUID: uploaderGUID,
		CreatedAt:    now,
		ACL:          acl,
	})
}

// ValidateChecksum accepts lowercase hex SHA-256 digests only.
func ValidateChecksum(checksum string) error {
	if len(checksum) != ChecksumLength {
		return fmt.Errorf("%w: checksum must be %d hex chars", common.ErrValidation, ChecksumLength)
	}
	if _, err := hex.DecodeString(checksum); err != nil {
		return fmt.Errorf("%w: checksum is not hex", common.ErrValidation)
	}
	for _, c := range checksum {
		if c >= 'A' && c <= 'F' {
			return fmt.Errorf("%w: checksum must be lowercase", common.ErrValidation)
		}
	}
	return nil
}

func (v VersionEntry) IsNull() bool         { return v.fileUID == "" }
func (v VersionEntry) FileUID() string      { return v.fileUID }
func (v VersionEntry) Size() int64          { return v.size }
func (v VersionEntry) Checksum() string     { return v.checksum }
func (v VersionEntry) UploadedBy() string   { return v.uploader }
func (v VersionEntry) CreatedAt() time.Time { return v.createdAt }

// ACL returns the override for userGUID on this version, or ACLInherit.
func (v VersionEntry) ACL(userGUID string) ACLRule {
	return v.acl.Get(userGUID)
}

// Overrides returns a copy of all overrides on this version.
func (v VersionEntry) Overrides() ACLOverrides {
	return v.acl.Clone()
}

// Before orders versions by creation time, then by file uid, so two versions
// created at the same instant still have a total order.
func (v VersionEntry) Before(other VersionEntry) bool {
	if !v.createdAt.Equal(other.createdAt) {
		return v.createdAt.Before(other.createdAt)
	}
	return v.fileUID < other.fileUID
}

// Timestamp is the sortable form of CreatedAt used in object keys and as a
// version selector.
func (v VersionEntry) Timestamp() string {
	return timex.FormatSortable(v.createdAt)
}

type versionJSON struct {
	FileUID    string       `json:"file_uid"`
	Size       int64        `json:"size"`
	Checksum   string       `json:"checksum"`
	UploadedBy string       `json:"uploaded_by"`
	CreatedAt  time.Time    `json:"created_at"`
	ACL        ACLOverrides `json:"acl,omitempty"`
}

func (v VersionEntry) MarshalJSON() ([]byte, error) {
	if v.IsNull() {
		return []byte("null"), nil
	}
	return json.Marshal(versionJSON{
		FileUID:    v.fileUID,
		Size:       v.size,
		Checksum:   v.checksum,
		UploadedBy: v.uploader,
		CreatedAt:  v.createdAt,
		ACL:        v.acl,
	})
}

func (v *VersionEntry) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = VersionEntry{}
		return nil
	}
	var dto versionJSON
	if err := json.Unmarshal(b, &dto); err != nil {
		return err
	}
	entry, err := NewVersionEntry(VersionParams{
		FileUID:      dto.FileUID,
		Size:         dto.Size,
		Checksum:     dto.Checksum,
		UploaderGUID: dto.UploadedBy,
		CreatedAt:    dto.CreatedAt,
		ACL:          dto.ACL,
	})
	if err != nil {
		return err
	}
	*v = entry
	return nil
}

// VersionSelector picks a version of a file: the latest when empty,
// otherwise the version with the given file uid or creation time.
type VersionSelector struct {
	FileUID   string
	CreatedAt time.Time
}

// Latest selects the most recent version.
var Latest = VersionSelector{}

func (s VersionSelector) IsLatest() bool {
	return s.FileUID == "" && s.CreatedAt.IsZero()
}

func (s VersionSelector) String() string {
	switch {
	case s.IsLatest():
		return ""
	case s.FileUID != "":
		return s.FileUID
	default:
		return timex.FormatSortable(s.CreatedAt)
	}
}

// Matches reports whether v is the version selected by s (latest excluded).
func (s VersionSelector) Matches(v VersionEntry) bool {
	if s.FileUID != "" {
		return v.fileUID == s.FileUID
	}
	return v.createdAt.Equal(s.CreatedAt)
}

// ParseVersionSelector interprets "" as latest, a sortable or RFC 3339
// timestamp as a creation time, and anything else as a file uid.
func ParseVersionSelector(s string) VersionSelector {
	if s == "" {
		return Latest
	}
	if t, err := timex.ParseSortable(s); err == nil {
		return VersionSelector{CreatedAt: t}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return VersionSelector{CreatedAt: t.UTC()}
	}
	return VersionSelector{FileUID: s}
}
