// Package templates embeds the default configuration and rule table
// materialized by warden init.
package templates

import "embed"

//go:embed config.yaml rules.yaml
var FS embed.FS
