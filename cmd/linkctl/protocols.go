// File: cmd/linkctl/protocols.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-link/protocol"
)

func newProtocolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "protocols",
		Short: "List the registered framing protocols",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range protocol.Names() {
				p, err := protocol.New(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %d\n", name, p.ID())
			}
			return nil
		},
	}
}
