package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/dmitrijs2005/gophdrive/internal/server/models"
)

// UploadFingerprint binds a token to one upload of one file content.
func UploadFingerprint(filename, checksum string) string {
	sum := sha256.Sum256([]byte(filename + "\x00" + checksum))
	return "upload " + hex.EncodeToString(sum[:])
}

// ConfirmFingerprint binds a token to the completion of one PAR.
func ConfirmFingerprint(parUID string) string {
	return "uploaded " + parUID
}

// DownloadFingerprint binds a token to reading one version of a file; the
// latest version when sel is empty.
func DownloadFingerprint(driveUID, filename string, sel models.VersionSelector) string {
	fp := "download " + driveUID + "/" + filename
	if s := sel.String(); s != "" {
		fp += "@" + s
	}
	return fp
}

// ListFingerprint binds a token to listing the versions of a file.
func ListFingerprint(driveUID, filename string) string {
	return "list_versions " + driveUID + "/" + filename
}
