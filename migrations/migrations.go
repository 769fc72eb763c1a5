// Package migrations embeds the Postgres schema. Files are applied in lexical
// order; {{dims}} is replaced with the configured embedding dimensionality.
package migrations

import "embed"

//go:embed postgres/*.up.sql
var Postgres embed.FS
