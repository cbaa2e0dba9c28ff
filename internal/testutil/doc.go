// Package testutil contains helper builders and stubs used across tests to
// reduce boilerplate when constructing state, conversation content and node
// executables. Not intended for production usage.
package testutil
