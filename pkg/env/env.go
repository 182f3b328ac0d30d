// Package env holds the one-off environment lookups that happen before the
// typed config is loaded, such as the PORT override in the server mains.
package env

import "os"

// Get returns the named environment variable, or fallback when it is unset
// or empty.
func Get(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
