// Package xlsx implements a streaming reader for OOXML spreadsheet
// workbooks (.xlsx).
//
// The package is built for files large enough that DOM-style parsing would
// exhaust memory: sheet XML is pull-parsed in document order and rows are
// delivered to a caller-supplied sink in fixed-size batches, so memory use
// is bounded by the batch size regardless of file size.
//
// Main pieces:
//
//   - Package: the opened zip container (workbook metadata, shared strings,
//     style table, per-sheet part streams)
//   - sheetReader: the row/cell pull parser that binds cells onto record
//     structs via their xlsx struct tags
//   - Descriptor cache (binding.go): one-time reflection over record types
//   - NormalizeCell (normalize.go): canonicalization of identifier and
//     locale-variant date cell text
//   - PrevalidateDimensions (dimension.go): cheap row-count gate that reads
//     only each sheet's <dimension> element
//   - Read strategies (strategy*.go): single-sheet, multi-sheet, parallel
//     batch dispatch, and backpressured dispatch
//
// Entry point for callers is Read, which selects a strategy from the
// configuration and runs it.
package xlsx
