// Package stores provides SQLite persistence for build status, run history,
// platform credentials and the activity log. The schema is applied from
// embedded golang-migrate migrations.
package stores
