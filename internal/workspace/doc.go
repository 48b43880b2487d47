// Package workspace manages per-build working directories.
//
// Each build gets its own directory named from the slugified business name
// and a timestamp (e.g., bella-cucina-20261016-122336). Managers created with
// keep=true leave directories behind on Cleanup for inspection.
package workspace
