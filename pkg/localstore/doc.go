// Package localstore provides the LocalConfigStore: a per-project on-disk
// YAML document holding user identity for namespacing and local-link
// overrides for remote sources. Reads and writes are serialised in-process
// by a mutex and across processes by exclusive file creation of a sibling
// lock file.
package localstore
