// Package testsupport provides shared fixtures for package tests: seeded
// configs, sized files, zip archives, and scaffolded units.
package testsupport
