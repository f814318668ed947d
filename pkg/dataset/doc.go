/*
Package dataset owns the persisted layout of one recording repo: the
per-episode columnar files, PNG frame directories, encoded videos, and
the append-only metadata under meta/.

Episodes are written independently and may complete out of index
order; nothing in this package infers completeness from file counts.
The columnar format is parquet with one row per frame.
*/
package dataset
