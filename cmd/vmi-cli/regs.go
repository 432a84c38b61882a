package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/go-vmi/vmi/internal/registers"
)

var regsCmd = &cobra.Command{
	Use:   "regs",
	Short: "read or write a single vCPU register",
}

var regsGetCmd = &cobra.Command{
	Use:   "get <reg> <vcpu>",
	Short: "read a vCPU register",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		reg, vcpu, err := parseRegArgs(args[0], args[1])
		if err != nil {
			return err
		}

		v, err := inst.GetVCPUReg(reg, vcpu)
		if err != nil {
			return err
		}

		fmt.Printf("%s[%d] = 0x%x\n", reg, vcpu, v)

		return nil
	},
}

var regsSetCmd = &cobra.Command{
	Use:   "set <reg> <vcpu> <value>",
	Short: "write a vCPU register; pause the VM first",
	Args:  cobra.ExactArgs(3),
	RunE: func(_ *cobra.Command, args []string) error {
		reg, vcpu, err := parseRegArgs(args[0], args[1])
		if err != nil {
			return err
		}

		value, err := strconv.ParseUint(args[2], 0, 64)
		if err != nil {
			return fmt.Errorf("parsing value: %w", err)
		}

		return inst.SetVCPUReg(reg, vcpu, value)
	},
}

func parseRegArgs(regArg, vcpuArg string) (registers.Reg, uint32, error) {
	reg, ok := registers.ParseReg(regArg)
	if !ok {
		return 0, 0, fmt.Errorf("unknown register %q", regArg)
	}

	vcpu, err := strconv.ParseUint(vcpuArg, 0, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing vcpu: %w", err)
	}

	return reg, uint32(vcpu), nil
}

func init() {
	regsCmd.AddCommand(regsGetCmd, regsSetCmd)
}
