package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect はキャッシュに使用するSQL方言を表す。
type Dialect string

const (
	// DialectSQLite は端末内のSQLiteファイルを使用する。
	DialectSQLite Dialect = "sqlite3"
	// DialectPostgres はPostgreSQLを使用する。
	DialectPostgres Dialect = "postgres"
	// DialectMemory はSQLを使用しないプロセス内キャッシュを表す。
	DialectMemory Dialect = "memory"
)

const (
	sqliteScheme   = "sqlite3://"
	memoryScheme   = "memory://"
	postgresScheme = "postgres://"
	postgresAlias  = "postgresql://"
)

// ParseCacheURL はキャッシュURLから方言とパス部分を判定する。
// スキームのないURLはSQLiteファイルのパスとして扱う。
func ParseCacheURL(cacheURL string) (Dialect, string, error) {
	switch {
	case cacheURL == "":
		return "", "", fmt.Errorf("empty cache database URL")
	case strings.HasPrefix(cacheURL, memoryScheme):
		return DialectMemory, "", nil
	case strings.HasPrefix(cacheURL, postgresScheme), strings.HasPrefix(cacheURL, postgresAlias):
		return DialectPostgres, cacheURL, nil
	case strings.HasPrefix(cacheURL, sqliteScheme):
		path := strings.TrimPrefix(cacheURL, sqliteScheme)
		if path == "" {
			return "", "", fmt.Errorf("empty sqlite path in URL: %s", cacheURL)
		}
		return DialectSQLite, path, nil
	case strings.Contains(cacheURL, "://"):
		return "", "", fmt.Errorf("unsupported cache database URL scheme: %s", cacheURL)
	default:
		return DialectSQLite, cacheURL, nil
	}
}

// Open はキャッシュURLに応じたデータベース接続を開く。
// memory:// はSQL接続を持たないためエラーを返す（呼び出し元でメモリ実装を選択すること）。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(cacheURL string) (*sql.DB, Dialect, error) {
	dialect, dsn, err := ParseCacheURL(cacheURL)
	if err != nil {
		return nil, "", err
	}

	switch dialect {
	case DialectSQLite:
		db, err := sql.Open("sqlite3", sqliteDSN(dsn))
		if err != nil {
			return nil, "", fmt.Errorf("failed to open database: %w", err)
		}
		// SQLiteは単一ライター。書き込みトランザクション中の読み取りは待機させる。
		db.SetMaxOpenConns(1)
		return db, dialect, nil
	case DialectPostgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open database: %w", err)
		}
		return db, dialect, nil
	default:
		return nil, "", fmt.Errorf("dialect %q has no SQL connection", dialect)
	}
}

// sqliteDSN はmattn/go-sqlite3用の接続文字列を組み立てる。
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + "_busy_timeout=5000&_journal_mode=WAL"
}

// MigrationURL はgolang-migrate用のデータベースURLを返す。
func MigrationURL(cacheURL string) (string, error) {
	dialect, dsn, err := ParseCacheURL(cacheURL)
	if err != nil {
		return "", err
	}
	switch dialect {
	case DialectSQLite:
		return sqliteScheme + dsn, nil
	case DialectPostgres:
		return dsn, nil
	default:
		return "", fmt.Errorf("dialect %q does not use migrations", dialect)
	}
}
