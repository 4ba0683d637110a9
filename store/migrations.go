package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type migrationFile struct {
	name     string
	version  *semver.Version
	content  []byte
	checksum [sha256.Size]byte
}

const (
	seedFile = "migrations/0.0.0-seed-migration.sql"
)

func initDB(db *sql.DB) error {
	if err := seedMigrations(db); err != nil {
		return err
	}
	migrations, err := loadMigrations()
	if err != nil {
		// if this failed, the binary has been corrupted
		panic(err)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version.LessThan(migrations[j].version)
	})

	last, err := lastVersion(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if last != nil && !last.LessThan(m.version) {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("unable to apply migration %v: %w", m.name, err)
		}
	}
	return nil
}

// lastVersion returns the newest applied migration, or nil on a fresh
// database.
func lastVersion(db *sql.DB) (*semver.Version, error) {
	var major, minor, patch uint64
	err := db.QueryRow("select ver_major, ver_minor, ver_patch from t_migrations order by 1 desc, 2 desc, 3 desc limit 1").
		Scan(&major, &minor, &patch)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return semver.New(major, minor, patch, "", ""), nil
}

func applyMigration(db *sql.DB, m migrationFile) error {
	return inTX(db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(string(m.content)); err != nil {
			return err
		}
		_, err := tx.Exec("insert into t_migrations(ver_major, ver_minor, ver_patch, filename, content, checksum) values ($1, $2, $3, $4, $5, $6)",
			m.version.Major(), m.version.Minor(), m.version.Patch(), m.name, string(m.content), m.checksum[:])
		return err
	})
}

func inTX(db *sql.DB, txn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := txn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func loadMigrations() ([]migrationFile, error) {
	files, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	var ret []migrationFile
	for _, f := range files {
		mf := migrationFile{
			name: path.Base(f.Name()),
		}
		ver, err := semver.StrictNewVersion(strings.Split(mf.name, "-")[0])
		if err != nil {
			return nil, err
		}
		if ver.Equal(semver.New(0, 0, 0, "", "")) {
			// skip 0.0.0 as it is the seed-migration.sql file anyway
			continue
		}
		mf.version = ver
		mf.content, err = fs.ReadFile(migrations, path.Join("migrations", f.Name()))
		if err != nil {
			return nil, err
		}
		mf.checksum = sha256.Sum256(mf.content)
		ret = append(ret, mf)
	}
	return ret, nil
}

func seedMigrations(db *sql.DB) error {
	content, err := fs.ReadFile(migrations, seedFile)
	if err != nil {
		return err
	}
	_, err = db.Exec(string(content))
	return err
}
