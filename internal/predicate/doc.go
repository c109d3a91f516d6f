// Package predicate defines the closed set of field conditions used to
// select entities.
//
// A Predicate tests one field of an entity version:
//
//   - Equals: field == value (an absent field equals Null)
//   - NotEquals: field != value
//   - GreaterThan, LessThan: ordered comparison; never true for an absent or null field
//   - In: field equals one of the listed values
//   - And: every child predicate holds (empty And always holds)
//
// Predicates are plain data. Match evaluates them in memory; the history
// package compiles the same values to parameterized SQL.
package predicate
