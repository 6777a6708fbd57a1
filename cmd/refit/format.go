package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ANSI styling, enabled only when stdout is a terminal.
var styled = term.IsTerminal(int(os.Stdout.Fd()))

func style(code string) string {
	if !styled {
		return ""
	}
	return code
}

var (
	bold   = style("\033[1m")
	dim    = style("\033[2m")
	reset  = style("\033[0m")
	red    = style("\033[31m")
	green  = style("\033[32m")
	yellow = style("\033[33m")
	blue   = style("\033[34m")
)

// hr prints a horizontal rule.
func hr(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 60))
}
