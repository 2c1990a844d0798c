// Package migrations embeds the SQLite schema for the rate-limit store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
