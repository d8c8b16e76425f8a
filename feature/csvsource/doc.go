// Package csvsource reads merge inputs from CSV files.
//
// Each input is one table: customers.csv feeds the customers table, with a
// header line naming the columns. Inputs are discovered in a local directory
// (Discover) or under a bucket prefix (DiscoverBucket). Rows are read lazily;
// the provenance of each row is the file name and its 1-based position after
// the header.
//
// A leading UTF-8 byte order mark is ignored. An optional null marker turns
// matching cells into NULL; otherwise empty cells are passed on as empty
// strings and the value converter treats them as NULL for every non-text
// column.
package csvsource
