// Package history exports the temporal entity store to SQLite after a run
// and answers point-in-time queries over the export.
//
// Each export is a row in runs plus one entity_versions row per version.
// Versions cover [valid_from, valid_to) in Unix nanoseconds with a NULL
// valid_to for the current version. Fields are stored as canonical JSON and
// filter predicates compile to json_extract comparisons with every field
// path and value bound as a parameter.
//
// SQLite compares json_extract results loosely, so a filter on a field that
// mixes ints and floats across versions behaves like the in-memory store
// only for numeric comparisons.
package history
