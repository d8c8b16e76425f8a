// Package utils provides common utility functions for pgmerge.
// It includes strict scalar coercion helpers shared by the value conversion
// pipeline, which reject input they cannot represent rather than defaulting
// to a zero value.
package utils
