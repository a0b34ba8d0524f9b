// File: cmd/linkctl/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// linkctl serves and exercises hioload-link endpoints from the command line.

package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
