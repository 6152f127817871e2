// Package mysql adapts the preference tier, the episodic tier, and the
// access audit trail to a shared MySQL database. The stores share one
// connection pool opened with Open; the schema ships with the package
// and is applied idempotently with EnsureSchema.
package mysql
