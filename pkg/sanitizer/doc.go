// Package sanitizer normalizes identifiers and category names before they
// reach validation and the allocation engine.
//
// All functions are idempotent. Invalid input yields an empty string rather
// than an error; validation decides what to do with it.
//
// Normalization includes:
//   - Identifiers (unit, request, booking ids): trim, drop whitespace runs
//   - Pool names: trim, collapse whitespace runs to one space
//   - Categories: lowercase snake case, "Four Wheeler" becomes "four_wheeler"
//   - Slices: remove duplicates and empty values after normalization
package sanitizer
