// Package runlock serializes pipeline runs over a shared batch data root
// using an advisory file lock.
package runlock
