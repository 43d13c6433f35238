//go:build !embed

// Package frontend serves the kiosk renderer page.
package frontend

import "net/http"

// Handler returns nil when the frontend is not embedded in the binary.
func Handler() http.Handler {
	return nil
}
