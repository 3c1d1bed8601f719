// Package ir provides the value and event types shared by every domino package.
//
// ir imports nothing internal. All other internal packages import ir, which
// keeps it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers
//   - Objects and arrays are treated as immutable once handed to the store
//   - All JSON tags use snake_case
package ir
