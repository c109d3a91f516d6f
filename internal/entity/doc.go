// Package entity implements the temporal entity store.
//
// Every entity is a list of versions. A version holds a full copy of the
// entity's fields and the half-open interval [ValidFrom, ValidTo) during
// which they were true. Mutations never edit a version: they close the open
// version at the mutation time and append a new one, so any past instant can
// be queried with VersionAt.
//
// Exclusive ownership is tracked in the ClaimField of each version. A Null
// claim means the entity is available.
//
// Invariants:
//   - versions of one entity are contiguous and non-overlapping
//   - exactly the last version is open (ValidTo == nil)
//   - each mutation time is strictly after the current ValidFrom
package entity
