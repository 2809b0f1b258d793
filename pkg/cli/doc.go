/*
Package cli provides command-line interface utilities for turnpike.

The cli package includes output formatters, a transfer meter and common CLI
helpers used by the turnpike command.

Output Formatting:

Commands print results as text, JSON or CSV:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, rows); err != nil {
		return err
	}

Values implementing Table are rendered as aligned columns in text mode and
as rows in CSV mode.

Transfer Meter:

`turnpike connect` reports tunnelled bytes and the remaining balance:

	meter := cli.NewTransferMeter(os.Stderr, time.Second)
	meter.Add(cli.Upload, n)
	meter.SetBalance(socket.Balance())

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()
*/
package cli
