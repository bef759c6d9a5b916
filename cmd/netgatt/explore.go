package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func exploreCmd(a *app) *cobra.Command {
	var (
		asJSON bool
		read   bool
	)
	cmd := &cobra.Command{
		Use:     "explore",
		Short:   "Discover and print the services of a server",
		Example: "  netgatt explore -n tcp -a localhost:3002 --json",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.endpoint()
			if err != nil {
				return err
			}
			cl, conn, err := dial(a.ctx, p)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := discoverAll(a.ctx, cl); err != nil {
				return err
			}
			if !asJSON {
				fmt.Print(cl)
				if !read {
					return nil
				}
			}
			dump := dumpServices(a.ctx, cl, read)
			if !asJSON {
				for _, s := range dump {
					for _, c := range s.Characteristics {
						switch {
						case c.ReadError != "":
							fmt.Printf("0x%04X %s: %s\n", c.ValueHandle, c.UUID, c.ReadError)
						case c.Value != "":
							fmt.Printf("0x%04X %s: %s\n", c.ValueHandle, c.UUID, c.Value)
						}
					}
				}
				return nil
			}
			b, err := marshalDump(dump)
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the tree as JSON")
	cmd.Flags().BoolVar(&read, "read", false, "read every readable characteristic")
	return cmd
}
