package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/punctuator/internal/logging"
	"github.com/hrygo/punctuator/metrics"
)

var restoreCmd = &cobra.Command{
	Use:   "restore [text...]",
	Short: "Restore one text given as arguments or on stdin and print it",
	Example: `  punctuator restore --labeler rule hello world how are you
  echo "my name is clara and i live in berkeley" | punctuator restore`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if len(args) == 0 {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return errors.Wrap(err, "read stdin")
			}
			text = string(data)
		}

		p, err := loadProfile()
		if err != nil {
			return err
		}
		logger, err := logging.New(os.Stderr, p.LogLevel, p.LogFormat)
		if err != nil {
			return err
		}

		restorer, err := newRestorer(cmd.Context(), p, metrics.NewExporter(metrics.Config{}), logger)
		if err != nil {
			return err
		}
		defer restorer.Close()

		restored, err := restorer.Restore(cmd.Context(), text)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), restored)
		return nil
	},
}
