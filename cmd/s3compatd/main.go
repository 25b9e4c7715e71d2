// Command s3compatd serves a minimal S3-compatible object storage API:
// SigV4-authenticated bucket and object operations, backed by the
// filesystem for bytes and SQLite for metadata.
package main

import (
	"context"
	"os"

	"github.com/s3compat/server/cmd/s3compatd/cli"
)

func main() {
	cli.ParseFlags()

	composer, err := cli.NewComposer(context.Background())
	if err != nil {
		cli.Logger.Fatal().Err(err).Msg("failed to initialize")
	}
	defer composer.Metadata.Close()

	if err := cli.Serve(context.Background(), composer); err != nil {
		cli.Logger.Fatal().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}
