//go:build !sqlite_fts5

package sqlite

// The search schema (migration 3) creates FTS5 virtual tables, and the
// bundled SQLite driver only compiles the FTS5 module in under the
// sqlite_fts5 build tag. Failing here at compile time beats failing at
// startup with "no such module: fts5".
//
// Build and test with:
//
//	go build -tags sqlite_fts5 ./...
//	go test -tags sqlite_fts5 ./...
//
// or use the Makefile targets, which set the tag.
var _ = thisRelayRequiresBuildTagSqliteFts5
