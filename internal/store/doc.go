// Package store defines the read model for harvest run progress. Implementations
// live in other packages; this package must not import database drivers or
// concrete clients.
package store
