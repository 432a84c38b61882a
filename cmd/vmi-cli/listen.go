package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-vmi/vmi"
)

var listenPFN uint64

var listenCmd = &cobra.Command{
	Use:   "listen <access> <timeout-ms>",
	Short: "register a page memory event and print fired events until timeout",
	Long:  "access is a combination of r, w, x and o (execute-on-write, exclusive)",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		access, err := parseMemAccess(args[0])
		if err != nil {
			return err
		}

		timeoutMS, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}

		err = inst.RegisterPageMemEvent(listenPFN, access, func(fired vmi.MemEventFired) {
			fmt.Printf("pfn=%d offset=%d vcpu=%d access=%v\n", fired.PFN, fired.Offset, fired.VCPU, fired.Access)
		})
		if err != nil {
			return fmt.Errorf("registering event: %w", err)
		}
		defer func() {
			if err := inst.ClearPageMemEvent(listenPFN); err != nil {
				logger.Warn("failed to clear page mem event", "pfn", listenPFN, "err", err)
			}
		}()

		return inst.EventsListen(timeoutMS)
	},
}

func parseMemAccess(s string) (vmi.MemAccess, error) {
	if s == "o" {
		return vmi.MemExecuteOnWrite, nil
	}

	var access vmi.MemAccess

	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			access |= vmi.MemRead
		case 'w':
			access |= vmi.MemWrite
		case 'x':
			access |= vmi.MemExecute
		default:
			return 0, fmt.Errorf("unknown access flag %q", c)
		}
	}

	return access, nil
}

func init() {
	listenCmd.Flags().Uint64Var(&listenPFN, "pfn", 0, "page frame number to watch")
}
