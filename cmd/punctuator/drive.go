package main

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hrygo/punctuator/client"
	"github.com/hrygo/punctuator/internal/logging"
	"github.com/hrygo/punctuator/internal/pipe"
)

var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Start worker processes and restore every stdin line through them",
	Long: `drive runs --workers copies of this binary as workers, using the same
labeler flags, and sends each line of stdin to them as one request. Results
are printed in input order. It exercises the worker the way a parent process
does.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		logger, err := logging.New(os.Stderr, p.LogLevel, p.LogFormat)
		if err != nil {
			return err
		}

		self, err := os.Executable()
		if err != nil {
			return errors.Wrap(err, "locate executable")
		}
		workers, _ := cmd.Flags().GetInt("workers")
		timeout, _ := cmd.Flags().GetDuration("request-timeout")

		cfg := client.Config{
			Command:          workerCommand(cmd, self),
			HandshakeTimeout: p.LabelerStartupTimeout,
			RequestTimeout:   timeout,
		}
		pool, err := client.NewPool(cmd.Context(), cfg, workers, logger)
		if err != nil {
			return err
		}
		defer pool.Close()

		var lines []string
		scanner := bufio.NewScanner(cmd.InOrStdin())
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return errors.Wrap(err, "read stdin")
		}

		results := make([]string, len(lines))
		var wg sync.WaitGroup
		for i, line := range lines {
			wg.Add(1)
			go func(i int, line string) {
				defer wg.Done()
				restored, err := pool.Restore(cmd.Context(), line, "")
				if err != nil {
					logger.Error("restore failed", "line", i+1, "error", err)
					results[i] = fmt.Sprintf("ERROR: %v", err)
					return
				}
				results[i] = restored
			}(i, line)
		}
		wg.Wait()

		out := bufio.NewWriter(cmd.OutOrStdout())
		for _, r := range results {
			fmt.Fprintln(out, r)
		}
		return out.Flush()
	},
}

func init() {
	driveCmd.Flags().Int("workers", 2, "number of worker processes")
	driveCmd.Flags().Duration("request-timeout", 60*time.Second, "timeout of one request")
	rootCmd.AddCommand(driveCmd)
}

// workerCommand runs self as a worker with the forwarded flags. The
// diagnostics server stays with the parent, so the worker's address is
// cleared both on the command line and in the environment, where .env or the
// parent's own environment would otherwise hand every worker the same port.
func workerCommand(cmd *cobra.Command, self string) pipe.Command {
	return pipe.Command{
		Path: self,
		Args: append(forwardedFlags(cmd), "--http-addr="),
		Env:  []string{"PUNCTUATOR_HTTP_ADDR="},
	}
}

// forwardedFlags repeats the persistent flags set on the command line so the
// workers load the same labeler.
func forwardedFlags(cmd *cobra.Command) []string {
	var args []string
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if cmd.Root().PersistentFlags().Lookup(f.Name) == nil || f.Name == "http-addr" {
			return
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			for _, v := range sv.GetSlice() {
				args = append(args, "--"+f.Name+"="+v)
			}
			return
		}
		args = append(args, "--"+f.Name+"="+f.Value.String())
	})
	return args
}
