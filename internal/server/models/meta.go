package models

import "time"

// FileHandle describes a file a client wants to store. Content carries the
// bytes for an inline upload; when nil the transfer goes through a PAR.
type FileHandle struct {
	DriveUID string       `validate:"required,excludes=/"`
	Filename string       `validate:"required,max=1024"`
	Size     int64        `validate:"gte=0"`
	Checksum string       `validate:"required,len=64,hexadecimal,lowercase"`
	Content  []byte       `validate:"-"`
	ACL      ACLOverrides `validate:"-"`
}

// FileMeta is the caller's view of one version of a file.
type FileMeta struct {
	DriveUID   string    `json:"drive_uid"`
	Filename   string    `json:"filename"`
	FileUID    string    `json:"file_uid"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
	UploadedBy string    `json:"uploaded_by"`
	Access     ACLRule   `json:"access"`
}

// NewFileMeta describes v of record as seen by a caller holding access.
func NewFileMeta(record *FileRecord, v VersionEntry, access ACLRule) FileMeta {
	return FileMeta{
		DriveUID:   record.DriveUID(),
		Filename:   record.Filename(),
		FileUID:    v.FileUID(),
		Size:       v.Size(),
		Checksum:   v.Checksum(),
		CreatedAt:  v.CreatedAt(),
		UploadedBy: v.UploadedBy(),
		Access:     access,
	}
}

// VersionSummary is one row of a version listing.
type VersionSummary struct {
	FileUID    string    `json:"file_uid"`
	Timestamp  string    `json:"timestamp"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
	UploadedBy string    `json:"uploaded_by"`
	Latest     bool      `json:"latest"`
}

// Summaries lists the versions of record oldest first.
func Summaries(record *FileRecord) []VersionSummary {
	versions := record.Versions()
	out := make([]VersionSummary, 0, len(versions))
	for i, v := range versions {
		out = append(out, VersionSummary{
			FileUID:    v.FileUID(),
			Timestamp:  v.Timestamp(),
			Size:       v.Size(),
			Checksum:   v.Checksum(),
			CreatedAt:  v.CreatedAt(),
			UploadedBy: v.UploadedBy(),
			Latest:     i == len(versions)-1,
		})
	}
	return out
}
