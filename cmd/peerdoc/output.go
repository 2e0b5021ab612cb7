package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"golang.org/x/term"

	"pkt.systems/prettyx"
)

// printJSON writes v as colorized, indented JSON on a terminal and as
// compact JSON lines otherwise.
func printJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if isTerminal(w) {
		return prettyx.PrettyTo(w, data, prettyx.DefaultOptions)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printQR(w io.Writer, url string) {
	if strings.TrimSpace(url) == "" {
		return
	}
	qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
}
