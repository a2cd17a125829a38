package lifecycle

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"ZK-Intent-Fusion/deploy/migrations"
	xerrors "ZK-Intent-Fusion/internal/errors"
)

// SQLConfig 描述关系型存储的连接参数。Driver 取值 mysql 或 sqlite。
type SQLConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// SQLBackend 将记录保存到单张 lifecycle_records 表中，依赖 (kind, commitment) 唯一索引保证只写一次。
type SQLBackend struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// NewSQLStore 打开数据库、执行迁移并返回 Store。
func NewSQLStore(ctx context.Context, cfg SQLConfig) (*RecordStore, error) {
	backend, err := NewSQLBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewRecordStore(backend), nil
}

// NewSQLBackend 打开数据库并执行嵌入的迁移脚本。
func NewSQLBackend(ctx context.Context, cfg SQLConfig) (*SQLBackend, error) {
	db, dialect, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	backend := newSQLBackend(db, dialect)
	if err := backend.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return backend, nil
}

func newSQLBackend(db *sql.DB, dialect string) *SQLBackend {
	return &SQLBackend{db: db, dialect: dialect, now: time.Now}
}

func openDatabase(ctx context.Context, cfg SQLConfig) (*sql.DB, string, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, "", xerrors.New(xerrors.CodeInitializationFailure, "sql store dsn is empty")
	}

	var driverName, dialect string
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "mysql":
		driverName, dialect = "mysql", "mysql"
	case "sqlite", "sqlite3":
		driverName, dialect = "sqlite", "sqlite"
	default:
		return nil, "", xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("unsupported sql driver: %s", cfg.Driver))
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, "", xerrors.Wrap(xerrors.CodeInitializationFailure, err, "open sql store")
	}

	if dialect == "sqlite" {
		// 单连接避免 SQLITE_BUSY。
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("ping %s", dialect))
	}
	return db, dialect, nil
}

// PutOnce 实现 Backend。
func (b *SQLBackend) PutOnce(ctx context.Context, kind RecordKind, commitment string, payload []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO lifecycle_records (kind, commitment, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(kind), commitment, string(payload), b.now().UnixNano())
	if err == nil {
		return nil
	}
	if !isDuplicateKey(err) {
		return fmt.Errorf("insert %s record: %w", kind, err)
	}
	existing, err := b.Get(ctx, kind, commitment)
	if err != nil {
		return err
	}
	if samePayload(existing, payload) {
		return nil
	}
	return ErrCollision
}

// Get 实现 Backend。
func (b *SQLBackend) Get(ctx context.Context, kind RecordKind, commitment string) ([]byte, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT payload FROM lifecycle_records WHERE kind = ? AND commitment = ?`,
		string(kind), commitment).Scan(&payload)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotPresent
	}
	if err != nil {
		return nil, fmt.Errorf("select %s record: %w", kind, err)
	}
	return payload, nil
}

// List 实现 Backend。
func (b *SQLBackend) List(ctx context.Context, kind RecordKind, limit int) ([][]byte, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT payload FROM lifecycle_records WHERE kind = ? ORDER BY seq DESC LIMIT ?`,
		string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", kind, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s record: %w", kind, err)
		}
		out = append(out, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s records: %w", kind, err)
	}
	return out, nil
}

// Clear 实现 Backend。
func (b *SQLBackend) Clear(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM lifecycle_records`); err != nil {
		return fmt.Errorf("clear lifecycle records: %w", err)
	}
	return nil
}

// Close 关闭连接池。
func (b *SQLBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var sqliteErr *sqlite.Error
	if stdErrors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

type migrationFile struct {
	version    string
	name       string
	statements []string
}

// Migrate 按版本顺序执行尚未应用的迁移脚本。
func (b *SQLBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create schema_migrations")
	}

	applied, err := b.loadAppliedVersions(ctx)
	if err != nil {
		return err
	}

	dir, err := migrations.ForDialect(b.dialect)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "locate migrations")
	}
	files, err := loadMigrationFiles(dir)
	if err != nil {
		return err
	}

	for _, migration := range files {
		if _, ok := applied[migration.version]; ok {
			continue
		}
		if err := b.applyMigration(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}

func (b *SQLBackend) loadAppliedVersions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "query schema_migrations")
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "scan schema_migrations")
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "iterate schema_migrations")
	}
	return applied, nil
}

func (b *SQLBackend) applyMigration(ctx context.Context, migration migrationFile) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "begin migration")
	}

	for _, stmt := range migration.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("apply migration %s", migration.name))
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, migration.version, b.now().Unix()); err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "record migration version")
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "commit migration")
	}
	return nil
}

func loadMigrationFiles(dir fs.FS) ([]migrationFile, error) {
	entries, err := fs.ReadDir(dir, ".")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "read migrations")
	}

	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()
		content, err := fs.ReadFile(dir, name)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, fmt.Sprintf("read migration %s", name))
		}
		statements := splitSQLStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		files = append(files, migrationFile{
			version:    parseMigrationVersion(name),
			name:       name,
			statements: statements,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].version == files[j].version {
			return files[i].name < files[j].name
		}
		return files[i].version < files[j].version
	})
	return files, nil
}

func splitSQLStatements(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func parseMigrationVersion(name string) string {
	if idx := strings.IndexRune(name, '_'); idx > 0 {
		return name[:idx]
	}
	if dot := strings.IndexRune(name, '.'); dot > 0 {
		return name[:dot]
	}
	return name
}
