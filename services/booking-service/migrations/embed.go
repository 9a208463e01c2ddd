// Package migrations embeds the booking-service schema for cmd/booking-migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
