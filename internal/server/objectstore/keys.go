package objectstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/timex"
)

// Keys builds object keys below a fixed root:
//
//	<root>/version/<drive>/<encoded filename>/<created at>/<file uid>
//	<root>/file/<drive>/<encoded filename>
//	<root>/content/<drive>/<file uid>
type Keys struct {
	root string
}

func NewKeys(root string) (Keys, error) {
	root = strings.Trim(root, "/")
	if root == "" {
		return Keys{}, fmt.Errorf("%w: empty key root", common.ErrValidation)
	}
	return Keys{root: root}, nil
}

func (k Keys) Root() string { return k.root }

// Version is the key of one version record.
func (k Keys) Version(drive, encoded string, createdAt time.Time, fileUID string) (string, error) {
	if err := checkComponents(drive, encoded, fileUID); err != nil {
		return "", err
	}
	if createdAt.IsZero() {
		return "", fmt.Errorf("%w: zero version timestamp", common.ErrValidation)
	}
	return k.join("version", drive, encoded, timex.FormatSortable(createdAt), fileUID), nil
}

// VersionPrefix is the prefix shared by every version record of one file,
// including the trailing slash.
func (k Keys) VersionPrefix(drive, encoded string) (string, error) {
	if err := checkComponents(drive, encoded); err != nil {
		return "", err
	}
	return k.join("version", drive, encoded) + "/", nil
}

// File is the key of the summary pointer of one file.
func (k Keys) File(drive, encoded string) (string, error) {
	if err := checkComponents(drive, encoded); err != nil {
		return "", err
	}
	return k.join("file", drive, encoded), nil
}

// Content is the key holding the bytes of one version.
func (k Keys) Content(drive, fileUID string) (string, error) {
	if err := checkComponents(drive, fileUID); err != nil {
		return "", err
	}
	return k.join("content", drive, fileUID), nil
}

func (k Keys) join(parts ...string) string {
	return k.root + "/" + strings.Join(parts, "/")
}

func checkComponents(parts ...string) error {
	for _, p := range parts {
		if p == "" || strings.Contains(p, "/") {
			return fmt.Errorf("%w: invalid key component %q", common.ErrValidation, p)
		}
	}
	return nil
}
