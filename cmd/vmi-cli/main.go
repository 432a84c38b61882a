// Package main is a thin command-line front end over the vmi library,
// exercising init/read/write/translate/register/event calls against
// whichever backend the operator selects.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-vmi/vmi"
	"github.com/go-vmi/vmi/internal/debuglog"
	"github.com/go-vmi/vmi/internal/version"
)

const (
	flagBackend          = "backend"
	flagVMID             = "vm-id"
	flagVMName           = "vm-name"
	flagFilePath         = "file-path"
	flagXenStoreSocket   = "xen-store-socket"
	flagXenControlSocket = "xen-control-socket"
	flagKVMQMPSocket     = "kvm-qmp-socket"
	flagKVMGDBAddr       = "kvm-gdb-addr"
	flagEvents           = "events"
	flagFullInit         = "full-init"
	flagLogLevel         = "log-level"
)

var rootCmd = &cobra.Command{
	Use:                "vmi-cli",
	Short:              "inspect a running (or snapshotted) VM's memory, registers and events",
	Long:               "vmi-cli is a diagnostic front end over the vmi introspection library",
	PersistentPreRunE:  setup,
	PersistentPostRunE: cleanup,
}

var (
	logger *slog.Logger
	inst   *vmi.Instance
)

func parseLevel(s string) (slog.Level, error) {
	if strings.ToUpper(s) == "TRACE" {
		return debuglog.LevelTrace, nil
	}

	var level slog.Level

	err := level.UnmarshalText([]byte(s))

	return level, err
}

func setup(cmd *cobra.Command, _ []string) error {
	level, err := parseLevel(viper.GetString(flagLogLevel))
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With("command", cmd.Name())

	if cmd.Name() == "version" || cmd.Name() == "help" {
		return nil
	}

	mode, err := parseMode(viper.GetString(flagBackend))
	if err != nil {
		return err
	}

	flags := vmi.InitPartial
	if viper.GetBool(flagFullInit) {
		flags |= vmi.InitFull
	}
	if viper.GetBool(flagEvents) {
		flags |= vmi.InitEvents
	}

	cfg := vmi.Config{
		FilePath:         viper.GetString(flagFilePath),
		XenStoreSocket:   viper.GetString(flagXenStoreSocket),
		XenControlSocket: viper.GetString(flagXenControlSocket),
		KVMQMPSocket:     viper.GetString(flagKVMQMPSocket),
		KVMGDBAddr:       viper.GetString(flagKVMGDBAddr),
		Logger:           logger,
	}

	inst, err = vmi.Init(viper.GetUint64(flagVMID), viper.GetString(flagVMName), mode, flags, cfg)
	if err != nil {
		logger.Error("failed to init vmi instance", "err", err)
		return err
	}

	hello := fmt.Sprintf("%s © 2026 the go-vmi project", version.Name)
	logger.Info(hello, "version", version.Tag, "backend", mode.String())

	return nil
}

func cleanup(_ *cobra.Command, _ []string) error {
	if inst == nil {
		return nil
	}

	if err := inst.Destroy(); err != nil {
		logger.Warn("failed to destroy vmi instance during shutdown", "err", err)
		return err
	}

	return nil
}

func parseMode(s string) (vmi.AccessMode, error) {
	switch strings.ToLower(s) {
	case "xen":
		return vmi.ModeXenLive, nil
	case "kvm":
		return vmi.ModeKVMLive, nil
	case "file":
		return vmi.ModeFile, nil
	default:
		return 0, fmt.Errorf("unknown backend %q (want xen, kvm or file)", s)
	}
}

func init() {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(`-`, `_`))
	viper.SetEnvPrefix("vmi")

	pf := rootCmd.PersistentFlags()
	pf.String(flagBackend, "file", "backend to use (xen, kvm, file)")
	pf.Uint64(flagVMID, 0, "VM identifier (xen domid); ignored if vm-name is set")
	pf.String(flagVMName, "", "VM name (xen domain name); resolved to an id")
	pf.String(flagFilePath, "", "path to a flat memory dump (file backend)")
	pf.String(flagXenStoreSocket, "/run/xenstored/socket", "xenstore Unix socket")
	pf.String(flagXenControlSocket, "/run/xenctl/socket", "xen control Unix socket")
	pf.String(flagKVMQMPSocket, "", "QMP Unix socket (kvm backend)")
	pf.String(flagKVMGDBAddr, "", "GDB remote-serial TCP address (kvm backend fallback)")
	pf.Bool(flagEvents, false, "request event delivery support at init")
	pf.Bool(flagFullInit, false, "request full (OS-aware) init")
	pf.String(flagLogLevel, "info", "log level (error, warning, info, debug, trace)")

	if err := viper.BindPFlags(pf); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(readCmd, writeCmd, regsCmd, translateCmd, listenCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
