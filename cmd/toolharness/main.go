// Command toolharness sends messages to a language model that can call local tools.
//
//	toolharness ask --bash "how much disk space is free?"
//	toolharness chat --provider openai --model gpt-4o
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
