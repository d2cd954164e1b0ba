package resolver

import (
	"database/sql"

	"github.com/BurntSushi/migration"
	"github.com/pkg/errors"

	_ "github.com/cznic/ql/driver"

	"github.com/aff4kit/imagestream/aff4"
)

// SQLResolver stores (subject, property) -> value rows in an embedded
// QL database: no external server, suitable for a tool that must run in
// an offline or air-gapped acquisition environment.
type SQLResolver struct {
	db *sql.DB
}

func schema1(tx migration.LimitedTx) error {
	const stmt = `
		CREATE TABLE properties (
			subject string,
			property string,
			value string
		);
		CREATE INDEX propsubject ON properties (subject);
	`
	_, err := tx.Exec(stmt)
	return err
}

var sqlMigrations = []migration.Migrator{
	schema1,
}

var sqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version) VALUES (?1)`,
	CreateSQL: `CREATE TABLE migration_version (version int)`,
}

// NewSQL opens (creating and migrating if necessary) a QL database at
// filename and returns a SQLResolver backed by it. The filename "memory"
// keeps the database entirely in memory.
func NewSQL(filename string) (*SQLResolver, error) {
	driver, dsn := "ql", filename
	if filename == "memory" {
		driver, dsn = "ql-mem", "mem.db"
	}
	db, err := migration.OpenWith(driver, dsn, sqlMigrations, sqlVersioning.Get, sqlVersioning.Set)
	if err != nil {
		return nil, errors.Wrap(aff4.ErrIoError, err.Error())
	}
	return &SQLResolver{db: db}, nil
}

// Get returns the value of property on subject, or aff4.ErrNotFound if
// no such row exists.
func (sr *SQLResolver) Get(subject, property string) (string, error) {
	const query = `SELECT value FROM properties WHERE subject == ?1 AND property == ?2 LIMIT 1`
	var value string
	err := sr.db.QueryRow(query, subject, property).Scan(&value)
	if err == sql.ErrNoRows {
		return "", errors.Wrapf(aff4.ErrNotFound, "%s %s", subject, property)
	}
	if err != nil {
		return "", errors.Wrap(aff4.ErrIoError, err.Error())
	}
	return value, nil
}

// Set records the value of property on subject, updating any existing
// row for the pair.
func (sr *SQLResolver) Set(subject, property, value string) error {
	const update = `UPDATE properties SET value = ?3 WHERE subject == ?1 AND property == ?2`
	const insert = `INSERT INTO properties VALUES (?1, ?2, ?3)`

	result, err := performExec(sr.db, update, subject, property, value)
	if err != nil {
		return errors.Wrap(aff4.ErrIoError, err.Error())
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(aff4.ErrIoError, err.Error())
	}
	if nrows == 0 {
		if _, err := performExec(sr.db, insert, subject, property, value); err != nil {
			return errors.Wrap(aff4.ErrIoError, err.Error())
		}
	}
	return nil
}

func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	result, err := tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// dbVersion adapts the schema-version bookkeeping migration.OpenWith
// expects to QL's SQL dialect: one row in migration_version holding the
// highest applied schema number.
type dbVersion struct {
	GetSQL    string
	SetSQL    string
	CreateSQL string
}

func (d dbVersion) Get(tx migration.LimitedTx) (int, error) {
	var v int
	if err := tx.QueryRow(d.GetSQL).Scan(&v); err != nil {
		// no migration_version table yet
		return 0, nil
	}
	return v, nil
}

func (d dbVersion) Set(tx migration.LimitedTx, version int) error {
	if _, err := tx.Exec(d.SetSQL, version); err != nil {
		if _, err := tx.Exec(d.CreateSQL); err != nil {
			return err
		}
		_, err := tx.Exec(d.SetSQL, version)
		return err
	}
	return nil
}
