package boltdb

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/alanbriolat/video-downloader/internal/credential"
	"github.com/alanbriolat/video-downloader/internal/settings"
)

var Buckets = struct {
	Metadata    []byte
	Credentials []byte
	Settings    []byte
}{
	Metadata:    []byte("__metadata__"),
	Credentials: []byte("credentials"),
	Settings:    []byte("settings"),
}

var MetadataKeys = struct {
	Version []byte
}{
	Version: []byte("version"),
}

var (
	credentialKey = []byte("youtube")
	settingsKey   = []byte("current")
)

const currentVersion = 2

type Database interface {
	Close() error

	credential.Store
	settings.Store
}

type database struct {
	*bbolt.DB
}

func New(path string) (_ Database, err error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) (err error) {
		// Ensure buckets exist
		var metadata *bbolt.Bucket
		if metadata, err = tx.CreateBucketIfNotExists(Buckets.Metadata); err != nil {
			return err
		}
		for _, name := range [][]byte{Buckets.Credentials, Buckets.Settings} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		// Get the current version of the database
		var version int
		if versionBytes := metadata.Get(MetadataKeys.Version); versionBytes == nil {
			version = 0
		} else if err = json.Unmarshal(versionBytes, &version); err != nil {
			return err
		}
		if version > currentVersion {
			return fmt.Errorf("database version %d is newer than supported version %d", version, currentVersion)
		}

		// Set the current version of the database
		if versionBytes, err := json.Marshal(currentVersion); err != nil {
			return err
		} else if err = metadata.Put(MetadataKeys.Version, versionBytes); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &database{db}, nil
}

func (d database) get(bucket []byte, key []byte, v any) (found bool, err error) {
	err = d.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, v)
	})
	return found, err
}

func (d database) put(bucket []byte, key []byte, v any) error {
	if data, err := json.Marshal(v); err != nil {
		return err
	} else {
		return d.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucket).Put(key, data)
		})
	}
}

func (d database) LoadCredential() (blob string, err error) {
	_, err = d.get(Buckets.Credentials, credentialKey, &blob)
	return blob, err
}

func (d database) SaveCredential(blob string) error {
	return d.put(Buckets.Credentials, credentialKey, blob)
}

func (d database) ClearCredential() error {
	return d.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Credentials).Delete(credentialKey)
	})
}

func (d database) LoadSettings() (*settings.Settings, error) {
	// Start from defaults so that keys added since the settings were saved get a sensible value
	s := settings.Defaults()
	if found, err := d.get(Buckets.Settings, settingsKey, &s); err != nil {
		return nil, err
	} else if !found {
		return nil, nil
	}
	return &s, nil
}

func (d database) SaveSettings(s *settings.Settings) error {
	return d.put(Buckets.Settings, settingsKey, s)
}
