package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/internal/app"
	"github.com/hupe1980/agenttree/internal/metrics"
)

var (
	runSession  string
	runMessages []string
	runStream   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent tree against a session",
	Long: `Send messages to the configured agent tree and print the resulting events.

Each -m flag is one turn. Without -m, messages are read from stdin, one per
line, until EOF. Events are appended to the session, so later runs with the
same -s continue the conversation when the session backend is persistent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if runStream {
			cfg.Run.Streaming = true
		}

		ctx := cmd.Context()
		a, err := app.Build(ctx, cfg, func(o *app.Options) { o.LogOutput = cmd.ErrOrStderr() })
		if err != nil {
			return err
		}
		defer a.Close(context.WithoutCancel(ctx))

		if addr := cfg.Observer.MetricsAddr; addr != "" {
			srv := &http.Server{Addr: addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.Logger.Error("metrics.serve.failed", "addr", addr, "error", err)
				}
			}()
			defer srv.Shutdown(context.WithoutCancel(ctx))
		}

		out := cmd.OutOrStdout()
		if len(runMessages) > 0 {
			for _, msg := range runMessages {
				if err := runTurn(ctx, a, out, msg); err != nil {
					return err
				}
			}
			return nil
		}

		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			msg := strings.TrimSpace(scanner.Text())
			if msg == "" {
				continue
			}
			if err := runTurn(ctx, a, out, msg); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		}
		return scanner.Err()
	},
}

func init() {
	runCmd.Flags().StringVarP(&runSession, "session", "s", "default", "session id")
	runCmd.Flags().StringArrayVarP(&runMessages, "message", "m", nil, "user message (repeatable)")
	runCmd.Flags().BoolVar(&runStream, "stream", false, "print partial model output as it arrives")
	rootCmd.AddCommand(runCmd)
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func runTurn(ctx context.Context, a *app.App, out io.Writer, msg string) error {
	inv, err := a.Runner.Run(ctx, runSession, *core.NewTextContent(core.RoleUser, msg))
	if err != nil {
		return err
	}

	streaming := false
	for ev := range inv.Events() {
		if ev.Author == core.AuthorUser {
			continue
		}
		if ev.Partial {
			if !streaming {
				fmt.Fprintf(out, "[%s] ", ev.Author)
				streaming = true
			}
			fmt.Fprint(out, ev.Text())
			continue
		}
		if streaming {
			fmt.Fprintln(out)
			streaming = false
			if ev.Text() != "" && len(ev.GetFunctionCalls()) == 0 {
				continue
			}
		}
		printEvent(out, ev)
	}

	if err := inv.Wait(); err != nil {
		return err
	}
	if inv.TimedOut() {
		fmt.Fprintln(out, "(timed out)")
	}
	for _, perr := range inv.PersistErrors() {
		fmt.Fprintf(out, "(not saved: %v)\n", perr)
	}
	return nil
}

func printEvent(out io.Writer, ev core.Event) {
	if ev.Error != nil {
		fmt.Fprintf(out, "[%s] error %s: %s\n", ev.Author, ev.Error.Code, ev.Error.Message)
		return
	}
	for _, call := range ev.GetFunctionCalls() {
		fmt.Fprintf(out, "[%s] call %s(%s)\n", ev.Author, call.Name, call.Arguments)
	}
	for _, resp := range ev.GetFunctionResponses() {
		if resp.Error != "" {
			fmt.Fprintf(out, "[%s] %s failed: %s\n", ev.Author, resp.Name, resp.Error)
			continue
		}
		result, err := json.Marshal(resp.Response)
		if err != nil {
			result = []byte(fmt.Sprint(resp.Response))
		}
		fmt.Fprintf(out, "[%s] %s -> %s\n", ev.Author, resp.Name, result)
	}
	if text := ev.Text(); text != "" {
		fmt.Fprintf(out, "[%s] %s\n", ev.Author, text)
	}
}
