// Package repository defines where emulator snapshots are kept between
// runs.
//
// A snapshot is stored under a name chosen by the caller. Saving under an
// existing name replaces the stored snapshot. The sqlite subpackage holds
// the implementation used by the CLI.
//
// # Testing
//
// The sqlite store is tested against in-memory databases.
package repository
