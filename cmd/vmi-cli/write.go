package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	writeVA  bool
	writeCR3 uint64
)

var writeCmd = &cobra.Command{
	Use:   "write <addr> <hex-bytes>",
	Short: "write hex-encoded bytes to guest memory",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		addr, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			return fmt.Errorf("parsing addr: %w", err)
		}

		buf, err := hex.DecodeString(args[1])
		if err != nil {
			return fmt.Errorf("parsing hex bytes: %w", err)
		}

		if writeVA {
			return inst.WriteVA(writeCR3, addr, buf)
		}

		return inst.WritePA(addr, buf)
	},
}

func init() {
	writeCmd.Flags().BoolVar(&writeVA, "va", false, "addr is a virtual address, translated via --cr3")
	writeCmd.Flags().Uint64Var(&writeCR3, "cr3", 0, "page table root for --va writes")
}
