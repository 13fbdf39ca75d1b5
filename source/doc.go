// Package source provides document file plumbing for the catalog pipeline:
// resolving input globs, streaming JSON documents in and out of files, and
// watching a directory for document changes.
package source
