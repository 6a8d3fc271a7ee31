package executor

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// PairConfig is one entry of the pair registry file (spec.md §6): the
// pre-configured swap path and router for a (collateral, debt) pair.
type PairConfig struct {
	Path           []byte
	Router         Router
	SwapperAddress common.Address
}

type pairConfigJSON struct {
	Path           string `json:"path"`
	Router         string `json:"router"`
	SwapperAddress string `json:"swapper_address"`
}

// PairRegistry maps "{collateral}_{debt}" to its swap configuration.
type PairRegistry map[string]PairConfig

// PairKey builds the registry lookup key for a (collateral, debt) pair.
func PairKey(collateral, debt common.Address) string {
	return strings.ToLower(collateral.Hex()) + "_" + strings.ToLower(debt.Hex())
}

// LoadPairRegistry reads the JSON pair registry file named in spec.md §6: a
// map-of-objects keyed "{collateral}_{debt}", path hex-encoded, router one of
// the three named adapters.
func LoadPairRegistry(path string) (PairRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pair registry: %w", err)
	}

	var decoded map[string]pairConfigJSON
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode pair registry: %w", err)
	}

	registry := make(PairRegistry, len(decoded))
	for key, entry := range decoded {
		pathBytes, err := hex.DecodeString(strings.TrimPrefix(entry.Path, "0x"))
		if err != nil {
			return nil, fmt.Errorf("pair %s: decode path hex: %w", key, err)
		}
		router := Router(entry.Router)
		if _, ok := routerSelectors[router]; !ok {
			return nil, fmt.Errorf("pair %s: unknown router %q", key, entry.Router)
		}
		registry[strings.ToLower(key)] = PairConfig{
			Path:           pathBytes,
			Router:         router,
			SwapperAddress: common.HexToAddress(entry.SwapperAddress),
		}
	}
	return registry, nil
}

// Lookup finds the configuration for a (collateral, debt) pair. A missing
// entry is reported to the caller, who drops the opportunity with a warning
// rather than treating it as fatal (spec.md §7 "Missing pair configuration").
func (r PairRegistry) Lookup(collateral, debt common.Address) (PairConfig, bool) {
	cfg, ok := r[PairKey(collateral, debt)]
	return cfg, ok
}
