package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aplpm/apl/fetch"
	"github.com/aplpm/apl/index"
	"github.com/aplpm/apl/report"
)

func newUpdateCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Fetch, verify and cache the latest registry index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts)
		},
	}
}

func runUpdate(opts *Options) error {
	pubKey, err := resolvePublicKey(opts.Config)
	if err != nil {
		return userErr("%w", err)
	}

	client := fetch.NewClient(opts.Config.HTTPTimeout())
	tmpIndex := opts.Paths.Index + ".tmp"
	tmpSig := opts.IndexSigTmp()

	if _, err := client.Download(context.Background(), opts.Config.RegistryURL, tmpIndex, "index", report.Null{}); err != nil {
		return ioErr("download index: %w", err)
	}
	defer os.Remove(tmpIndex)

	if _, err := client.Download(context.Background(), opts.Config.RegistryURL+".sig", tmpSig, "index signature", report.Null{}); err != nil {
		var fe *fetch.Error
		if errors.As(err, &fe) && fe.Kind == "http_status_4xx" {
			return integrityErr("download index signature: %w (an index with no signature is never installable)", err)
		}
		return ioErr("download index signature: %w", err)
	}
	defer os.Remove(tmpSig)

	transportBytes, err := os.ReadFile(tmpIndex)
	if err != nil {
		return ioErr("read downloaded index: %w", err)
	}
	sigBytes, err := os.ReadFile(tmpSig)
	if err != nil {
		return ioErr("read downloaded signature: %w", err)
	}

	if err := index.Verify(pubKey, transportBytes, sigBytes); err != nil {
		return integrityErr("verify index signature: %w", err)
	}

	newIdx, err := index.Load(transportBytes)
	if err != nil {
		return integrityErr("decode index: %w", err)
	}

	if opts.DryRun {
		fmt.Fprintf(opts.Out, "(dry run) would install index with %d packages\n", len(newIdx.Packages))
		return nil
	}

	if err := os.Rename(tmpIndex, opts.Paths.Index); err != nil {
		return ioErr("place index: %w", err)
	}
	if err := os.Rename(tmpSig, opts.Paths.IndexSig); err != nil {
		return ioErr("place index signature: %w", err)
	}
	fmt.Fprintf(opts.Out, "updated index: %d packages\n", len(newIdx.Packages))
	return nil
}

// IndexSigTmp returns the staging path for a downloaded signature, kept
// beside the index so both rename atomically onto the same filesystem.
func (o *Options) IndexSigTmp() string {
	return o.Paths.IndexSig + ".tmp"
}
