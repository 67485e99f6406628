package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"

	"github.com/aplpm/apl/config"
	"github.com/aplpm/apl/ident"
	"github.com/aplpm/apl/index"
)

// archForRuntime maps the Go runtime's GOARCH to the ident.Arch the
// registry index keys artifacts by.
func archForRuntime() (ident.Arch, error) {
	switch runtime.GOARCH {
	case "arm64":
		return ident.ArchARM64, nil
	case "amd64":
		return ident.ArchX86_64, nil
	default:
		return "", fmt.Errorf("unsupported architecture %s", runtime.GOARCH)
	}
}

// loadIndex reads and decodes the locally cached registry index written by
// the last successful `update`.
func loadIndex(opts *Options) (*index.PackageIndex, error) {
	raw, err := os.ReadFile(opts.Paths.Index)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, userErr("no local index; run 'apl update' first")
		}
		return nil, ioErr("read index: %w", err)
	}
	idx, err := index.Load(raw)
	if err != nil {
		return nil, integrityErr("decode index: %w", err)
	}
	return idx, nil
}

// defaultPublicKeyHex is the Ed25519 verifying key compiled into every apl
// binary, hex-encoded. It is the trust root for the registry index: update
// refuses to install an index that doesn't carry a valid signature under
// this key, unless an operator overrides it in ~/.apl/config.yaml for a
// private registry. Corresponds to the signing key cmd/aplindex holds.
const defaultPublicKeyHex = "66c34de52ffd74d66bc59a8625c2181ea823a7a61dff47bd4130ad115807309c"

// resolvePublicKey returns the Ed25519 public key used to verify the
// registry index: the operator's public_key_override from
// ~/.apl/config.yaml when set, otherwise the compiled-in default.
func resolvePublicKey(cfg config.Config) (ed25519.PublicKey, error) {
	raw := cfg.PublicKeyOverride
	if raw == "" {
		raw = defaultPublicKeyHex
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key: expected %d bytes, got %d", ed25519.PublicKeySize, len(key))
	}
	return ed25519.PublicKey(key), nil
}

// parseSpecs turns CLI positional args into ident.Spec values.
func parseSpecs(args []string) []ident.Spec {
	specs := make([]ident.Spec, 0, len(args))
	for _, a := range args {
		specs = append(specs, ident.ParseSpec(a))
	}
	return specs
}
