// Package migrations embeds the SQL schema for the activity recorder so the
// bridge binary can create its tables without files on disk.
package migrations

import "embed"

// FS holds every *.sql file in this directory, at the root of the FS.
//
//go:embed *.sql
var FS embed.FS
