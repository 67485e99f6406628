package main

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/spf13/cobra"
	"lukechampine.com/blake3"
)

// newHashCommand implements the "hash files..." verb: by default it prints
// the BLAKE3 digest the store uses internally for content addressing;
// --sha256 prints the digest an ArtifactRef declares instead, for a
// package author comparing a downloaded artifact against a template entry.
// Grounded on original_source/src/cmd/hash.rs's streaming compute_file_hash.
func newHashCommand(opts *Options) *cobra.Command {
	var useSHA256 bool
	cmd := &cobra.Command{
		Use:   "hash <files...>",
		Short: "Print the content digest of one or more files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				sum, err := hashFile(path, useSHA256)
				if err != nil {
					return ioErr("hash %s: %w", path, err)
				}
				fmt.Fprintf(opts.Out, "%s  %s\n", sum, path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useSHA256, "sha256", false, "print SHA-256 instead of the default BLAKE3 digest")
	return cmd
}

func hashFile(path string, useSHA256 bool) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var h hash.Hash
	if useSHA256 {
		h = sha256.New()
	} else {
		h = blake3.New(32, nil)
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
