package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	readVA  bool
	readCR3 uint64
)

var readCmd = &cobra.Command{
	Use:   "read <addr> <len>",
	Short: "read guest memory and print it as hex",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		addr, err := strconv.ParseUint(args[0], 0, 64)
		if err != nil {
			return fmt.Errorf("parsing addr: %w", err)
		}

		length, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return fmt.Errorf("parsing len: %w", err)
		}

		buf := make([]byte, length)

		if readVA {
			err = inst.ReadVA(readCR3, addr, buf)
		} else {
			err = inst.ReadPA(addr, buf)
		}
		if err != nil {
			return err
		}

		fmt.Println(hex.EncodeToString(buf))

		return nil
	},
}

func init() {
	readCmd.Flags().BoolVar(&readVA, "va", false, "addr is a virtual address, translated via --cr3")
	readCmd.Flags().Uint64Var(&readCR3, "cr3", 0, "page table root for --va reads")
}
