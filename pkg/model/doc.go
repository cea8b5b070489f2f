// Package model describes the data model of a synchronized volume:
// revisions of files, change records in the volume change log and
// entries of a listing.
package model
