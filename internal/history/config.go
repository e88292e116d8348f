package history

import (
	"path/filepath"

	"codeberg.org/mutker/pulsecore/internal/errors"
)

const (
	// File system permissions
	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644

	defaultMaxOpenConns = 4
	backupDirName       = "backups"
)

type Config struct {
	DBPath string
	// BackupDir receives a copy of the database before a schema rebuild.
	// Empty means a "backups" directory next to DBPath.
	BackupDir    string
	MaxOpenConns int
}

func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:       dbPath,
		MaxOpenConns: defaultMaxOpenConns,
	}
}

func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New().New(ErrInvalidDBPath)
	}
	return nil
}

func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), backupDirName)
}

func (c Config) maxOpenConns() int {
	if c.MaxOpenConns <= 0 {
		return defaultMaxOpenConns
	}
	return c.MaxOpenConns
}
