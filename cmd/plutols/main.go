// Command plutols is the Pluto Language Server: it accepts editor
// connections over a length-prefixed TCP transport and answers
// diagnostics/completion requests by driving the plutoc compiler binary.
package main

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/PlutoLang/Language-Server/internal/compiler"
	"github.com/PlutoLang/Language-Server/internal/server"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a run failure to spec.md §6's exit codes: 1 for bind
// failure, 2 for invalid arguments (including cobra flag-parse errors). A
// clean shutdown returns nil from Execute and never reaches here.
func exitCodeFor(err error) int {
	if errors.Is(err, server.ErrBindFailure) {
		return 1
	}
	return 2
}

func newRootCommand() *cobra.Command {
	var (
		plutocPath string
		port       int
		honourExit bool
		honorExit  bool
	)

	cmd := &cobra.Command{
		Use:   "plutols",
		Short: "Pluto Language Server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			return run(logger, plutocPath, port, honourExit || honorExit)
		},
	}

	cmd.Flags().StringVar(&plutocPath, "plutoc", "plutoc", "path to the plutoc compiler binary")
	cmd.Flags().IntVar(&port, "port", 9170, "TCP port to listen on")
	cmd.Flags().BoolVar(&honourExit, "honour-exit", false, "terminate the process on the LSP exit notification")
	cmd.Flags().BoolVar(&honorExit, "honor-exit", false, "alias for --honour-exit")

	return cmd
}

func run(logger *slog.Logger, plutocPath string, port int, honourExit bool) error {
	driver := compiler.NewDriver(plutocPath)
	dispatcher := server.NewDispatcher(driver, logger, honourExit)
	listener := server.NewListener(dispatcher, logger)

	ln, err := server.Listen(port)
	if err != nil {
		logger.Error("failed to bind", "port", port, "err", err)
		return err
	}
	logger.Info("Pluto Language Server is listening", "port", port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() { serveErr <- listener.Serve(ln) }()

	select {
	case <-sigCh:
		logger.Info("shutting down")
		ln.Close()
		listener.Shutdown()
		return nil
	case err := <-serveErr:
		if err != nil {
			logger.Error("listener stopped", "err", err)
		}
		return nil
	}
}
