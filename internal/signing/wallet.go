package signing

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type hotkeyFile struct {
	SecretSeed string `json:"secretSeed"`
}

// LoadKeypair reads the hotkey seed from a wallet directory laid out as
// <path>/<wallet>/hotkeys/<hotkey>. The file is either a JSON document with a
// hex secretSeed field or a bare hex seed.
func LoadKeypair(walletPath, walletName, hotkeyName string) (*Keypair, error) {
	file := filepath.Join(walletPath, walletName, "hotkeys", hotkeyName)
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading hotkey file: %w", err)
	}

	seedHex := strings.TrimSpace(string(data))
	var parsed hotkeyFile
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.SecretSeed != "" {
		seedHex = parsed.SecretSeed
	}
	seedHex = strings.TrimPrefix(seedHex, "0x")

	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decoding hotkey seed: %w", err)
	}
	return FromSeed(seed)
}
