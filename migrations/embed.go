// Package migrations holds the schema as numbered SQL files. The files are
// compiled into the binary; `studyflow migrate --dir` can point at a
// directory on disk instead.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
