// Package migrations embeds the goose SQL migrations of the identity and
// drive ACL schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
