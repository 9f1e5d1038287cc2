// Package soffice drives headless LibreOffice to convert legacy office
// formats to their modern equivalents. Each conversion runs under a deadline
// scaled to the input size.
package soffice
