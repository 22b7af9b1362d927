// Package migrations embeds the tenant schema SQL applied by
// `hms-server migrate up` and `hms-server tenant create`.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
