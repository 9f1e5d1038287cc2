// Package extractor unpacks archive units recursively. Zip archives are read
// natively so member sizes declared in the central directory can be charged
// against the unpack ceilings before a single byte is inflated; rar and 7z go
// through the external 7z tool, with the same ceilings enforced from its
// listing output. Exceeding either ceiling quarantines the unit.
package extractor
