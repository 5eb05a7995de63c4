// Package ui embeds the browser map page.
package ui

import "embed"

// DistFS holds the page under dist/.
//
//go:embed dist
var DistFS embed.FS
