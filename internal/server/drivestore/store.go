// Package drivestore persists file records in an object store: one immutable
// object per version, and one summary pointer per file naming its latest
// version.
package drivestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/objectstore"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"
)

var mon = monkit.Package()

// casRetries bounds summary pointer compare-and-swap attempts.
const casRetries = 5

type summary struct {
	DriveUID string              `json:"drive_uid"`
	Filename string              `json:"filename"`
	Latest   models.VersionEntry `json:"latest"`
}

// DriveStore saves and loads file records.
type DriveStore struct {
	store objectstore.Store
	keys  objectstore.Keys
	log   logging.Logger
}

func New(store objectstore.Store, keys objectstore.Keys, log logging.Logger) *DriveStore {
	return &DriveStore{store: store, keys: keys, log: log.With("module", "drivestore")}
}

// Save writes every version record holds and points the file summary at its
// latest. A version that sorts before the stored latest is still written, so
// it stays reachable through history. An existing version object is never
// overwritten, and the summary never moves to an older version than the one
// it names.
func (d *DriveStore) Save(ctx context.Context, record *models.FileRecord) (err error) {
	defer mon.Task()(&ctx)(&err)

	if record.IsNull() {
		return common.ErrNullRecord
	}
	latest := record.Latest()
	encoded := record.EncodedFilename()

	fileKey, err := d.keys.File(record.DriveUID(), encoded)
	if err != nil {
		return err
	}
	for _, v := range record.Versions() {
		versionKey, err := d.keys.Version(record.DriveUID(), encoded, v.CreatedAt(), v.FileUID())
		if err != nil {
			return err
		}
		versionData, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: encode version: %v", common.ErrorInternal, err)
		}
		if err := d.putVersion(ctx, versionKey, versionData); err != nil {
			return err
		}
	}

	summaryData, err := json.Marshal(summary{DriveUID: record.DriveUID(), Filename: record.Filename(), Latest: latest})
	if err != nil {
		return fmt.Errorf("%w: encode summary: %v", common.ErrorInternal, err)
	}
	if cs, ok := d.store.(objectstore.ConditionalStore); ok {
		err = d.swapSummary(ctx, cs, fileKey, latest, summaryData)
	} else {
		err = d.overwriteSummary(ctx, fileKey, latest, summaryData)
	}
	if err != nil {
		return err
	}

	d.log.Debug(ctx, "file record saved",
		"drive_uid", record.DriveUID(), "filename", record.Filename(), "file_uid", latest.FileUID())
	return nil
}

func (d *DriveStore) putVersion(ctx context.Context, key string, data []byte) error {
	if cs, ok := d.store.(objectstore.ConditionalStore); ok {
		err := cs.PutIfRevision(ctx, key, data, "")
		if err != nil && !errors.Is(err, common.ErrPreconditionFailed) {
			return fmt.Errorf("%w: write version: %v", common.ErrorInternal, err)
		}
		return nil
	}

	exists, err := d.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: check version: %v", common.ErrorInternal, err)
	}
	if exists {
		return nil
	}
	if err := d.store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("%w: write version: %v", common.ErrorInternal, err)
	}
	return nil
}

func (d *DriveStore) swapSummary(ctx context.Context, cs objectstore.ConditionalStore, key string, latest models.VersionEntry, data []byte) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		current, revision, err := d.readSummary(ctx, cs, key)
		if err != nil {
			return err
		}
		if !current.Latest.IsNull() && !current.Latest.Before(latest) {
			return nil
		}

		err = cs.PutIfRevision(ctx, key, data, revision)
		if err == nil {
			return nil
		}
		if !errors.Is(err, common.ErrPreconditionFailed) {
			return fmt.Errorf("%w: write summary: %v", common.ErrorInternal, err)
		}
		d.log.Debug(ctx, "summary pointer changed concurrently, retrying", "key", key, "attempt", attempt+1)
	}
	return fmt.Errorf("%w: summary %s still contended after %d attempts", common.ErrorInternal, key, casRetries)
}

func (d *DriveStore) readSummary(ctx context.Context, cs objectstore.ConditionalStore, key string) (summary, string, error) {
	raw, revision, err := cs.GetWithRevision(ctx, key)
	if errors.Is(err, common.ErrorNotFound) {
		return summary{}, "", nil
	}
	if err != nil {
		return summary{}, "", fmt.Errorf("%w: read summary: %v", common.ErrorInternal, err)
	}
	var s summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return summary{}, "", fmt.Errorf("%w: decode summary %s: %v", common.ErrorInternal, key, err)
	}
	return s, revision, nil
}

// overwriteSummary is last-writer-wins with a guard against replacing a
// newer pointer that is already in place.
func (d *DriveStore) overwriteSummary(ctx context.Context, key string, latest models.VersionEntry, data []byte) error {
	raw, err := d.store.Get(ctx, key)
	switch {
	case errors.Is(err, common.ErrorNotFound):
	case err != nil:
		return fmt.Errorf("%w: read summary: %v", common.ErrorInternal, err)
	default:
		var current summary
		if err := json.Unmarshal(raw, &current); err == nil && !current.Latest.IsNull() && !current.Latest.Before(latest) {
			return nil
		}
	}
	if err := d.store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("%w: write summary: %v", common.ErrorInternal, err)
	}
	return nil
}

// Load returns the record of driveUID/filename holding only its latest
// version, or common.ErrMissingFile.
func (d *DriveStore) Load(ctx context.Context, driveUID, filename string) (_ *models.FileRecord, err error) {
	defer mon.Task()(&ctx)(&err)

	record, err := models.NewFileRecord(driveUID, filename, models.VersionEntry{})
	if err != nil {
		return nil, err
	}
	key, err := d.keys.File(driveUID, record.EncodedFilename())
	if err != nil {
		return nil, err
	}

	raw, err := d.store.Get(ctx, key)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", common.ErrMissingFile, driveUID, record.Filename())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read summary: %v", common.ErrorInternal, err)
	}

	var s summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: decode summary %s: %v", common.ErrorInternal, key, err)
	}
	if s.Latest.IsNull() {
		return nil, fmt.Errorf("%w: %s/%s has an empty summary", common.ErrMissingFile, driveUID, record.Filename())
	}
	if err := record.AddVersion(s.Latest); err != nil {
		return nil, err
	}
	return record, nil
}

// LoadWithHistory is Load plus every stored version of the file.
func (d *DriveStore) LoadWithHistory(ctx context.Context, driveUID, filename string) (_ *models.FileRecord, err error) {
	defer mon.Task()(&ctx)(&err)

	record, err := d.Load(ctx, driveUID, filename)
	if err != nil {
		return nil, err
	}
	versions, err := d.Versions(ctx, driveUID, record.Filename())
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if err := record.AddVersion(v); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// Versions lists every stored version of the file, oldest first. A file
// that was never saved has no versions.
func (d *DriveStore) Versions(ctx context.Context, driveUID, filename string) (_ []models.VersionEntry, err error) {
	defer mon.Task()(&ctx)(&err)

	name, err := models.NormalizeFilename(filename)
	if err != nil {
		return nil, err
	}
	prefix, err := d.keys.VersionPrefix(driveUID, models.EncodeFilename(name))
	if err != nil {
		return nil, err
	}

	keys, err := d.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list versions: %v", common.ErrorInternal, err)
	}

	versions := make([]models.VersionEntry, 0, len(keys))
	for _, key := range keys {
		raw, err := d.store.Get(ctx, key)
		if errors.Is(err, common.ErrorNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read version: %v", common.ErrorInternal, err)
		}
		var v models.VersionEntry
		if err := json.Unmarshal(raw, &v); err != nil {
			d.log.Warn(ctx, "skipping undecodable version", "key", key, "error", err)
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Before(versions[j]) })
	return versions, nil
}
