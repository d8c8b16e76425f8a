// Package export writes tables as CSV files, one <table>.csv per table with
// a header line, to a local directory or a bucket prefix.
//
// The files use the layout the merge command reads, so an export followed by
// a merge of the same files is a no-op.
package export
