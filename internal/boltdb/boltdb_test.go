package boltdb

import (
	"path/filepath"
	"testing"

	assert_ "github.com/stretchr/testify/assert"

	"github.com/alanbriolat/video-downloader/internal/credential"
	"github.com/alanbriolat/video-downloader/internal/settings"
)

func openTemp(t *testing.T) (Database, string) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	return db, path
}

func TestDatabase_Credential(t *testing.T) {
	assert := assert_.New(t)
	db, path := openTemp(t)

	blob, err := db.LoadCredential()
	assert.Nil(err)
	assert.Equal("", blob)

	assert.Nil(db.SaveCredential("SID=a; SAPISID=b"))
	blob, err = db.LoadCredential()
	assert.Nil(err)
	assert.Equal("SID=a; SAPISID=b", blob)

	// Survives reopening
	assert.Nil(db.Close())
	db, err = New(path)
	assert.Nil(err)
	creds := credential.New(db)
	assert.True(creds.HasValid())

	assert.Nil(creds.Clear())
	blob, err = db.LoadCredential()
	assert.Nil(err)
	assert.Equal("", blob)
	assert.Nil(db.Close())
}

func TestDatabase_Settings(t *testing.T) {
	assert := assert_.New(t)
	db, path := openTemp(t)

	s, err := db.LoadSettings()
	assert.Nil(err)
	assert.Nil(s)

	m, err := settings.NewManager(db)
	assert.Nil(err)
	assert.Nil(m.Set("max_concurrent", "4"))
	assert.Nil(m.Set("speed_limit", "1MiB"))
	assert.Nil(db.Close())

	db, err = New(path)
	assert.Nil(err)
	m, err = settings.NewManager(db)
	assert.Nil(err)
	assert.Equal(4, m.Current().MaxConcurrent)
	assert.Equal("1MiB", m.Current().SpeedLimit)
	assert.Equal(settings.QualityBest, m.Current().VideoQuality)
	assert.Nil(db.Close())
}
