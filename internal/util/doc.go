// Package util provides small helpers shared across the sns-oauth packages.
//
// Key utilities:
//   - SafeTruncate: bounds provider error text and shortens correlation
//     handles before they are logged
package util
