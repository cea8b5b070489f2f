// Package storage describes the interface to a simple object store.
//
// Objects are immutable byte streams stored under a string key. The content-addressable
// store in pkg/cafs is layered on top of such a store.
package storage
