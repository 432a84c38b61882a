package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var translatePAE bool

var translateCmd = &cobra.Command{
	Use:   "translate <cr3> <va>",
	Short: "walk the guest's page tables and print the physical address",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		cr3, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			return fmt.Errorf("parsing cr3: %w", err)
		}

		va, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return fmt.Errorf("parsing va: %w", err)
		}

		var pa uint64
		if translatePAE {
			pa, err = inst.TranslatePAE(cr3, va)
		} else {
			pa, err = inst.Translate(cr3, va)
		}
		if err != nil {
			return err
		}

		fmt.Printf("0x%x\n", pa)

		return nil
	},
}

func init() {
	translateCmd.Flags().BoolVar(&translatePAE, "pae", false, "walk cr3 as 32-bit PAE tables")
}
