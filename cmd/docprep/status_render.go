package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusOK statusKind = iota
	statusError
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
)

const checkLabelWidth = 22

func renderCheckLine(label string, kind statusKind, detail string, colorize bool) string {
	status := "OK"
	color := ansiGreen
	if kind == statusError {
		status = "FAIL"
		color = ansiRed
	}
	text := fmt.Sprintf("  %-*s [%s]", checkLabelWidth, label+":", status)
	if detail != "" {
		text += " " + detail
	}
	if colorize {
		return color + text + ansiReset
	}
	return text
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
