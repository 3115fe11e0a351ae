package security

import (
	"fmt"
	"strings"

	apperrors "quantum-trader/internal/errors"
)

// Credential is a decrypted API key pair.
type Credential struct {
	Key    string
	Secret string
}

// EnvPrefix returns the environment prefix for a symbol: "BTC/EUR" -> "BTC_EUR".
func EnvPrefix(symbol string) string {
	return strings.ToUpper(strings.NewReplacer("/", "_", "-", "_").Replace(symbol))
}

// ResolveSymbolKeys reads <PREFIX>_API_KEY and <PREFIX>_API_SECRET for each
// symbol and decrypts them with box. Symbols without both variables are left
// out, so the caller falls back to the plaintext config credentials.
func ResolveSymbolKeys(symbols []string, box *SecretBox, lookup func(string) (string, bool)) (map[string]Credential, error) {
	out := make(map[string]Credential)
	for _, symbol := range symbols {
		prefix := EnvPrefix(symbol)
		encKey, hasKey := lookup(prefix + "_API_KEY")
		encSecret, hasSecret := lookup(prefix + "_API_SECRET")
		if !hasKey && !hasSecret {
			continue
		}
		if !hasKey || !hasSecret || encKey == "" || encSecret == "" {
			return nil, apperrors.NewSecurityError("resolve_keys",
				fmt.Sprintf("%s needs both %s_API_KEY and %s_API_SECRET", symbol, prefix, prefix), apperrors.ErrConfigInvalid)
		}
		if box == nil {
			return nil, apperrors.NewSecurityError("resolve_keys",
				fmt.Sprintf("encrypted keys set for %s but no secret key configured", symbol), apperrors.ErrDecryption)
		}

		key, err := box.Decrypt(encKey)
		if err != nil {
			return nil, fmt.Errorf("decrypting %s_API_KEY: %w", prefix, err)
		}
		secret, err := box.Decrypt(encSecret)
		if err != nil {
			return nil, fmt.Errorf("decrypting %s_API_SECRET: %w", prefix, err)
		}
		out[symbol] = Credential{Key: key, Secret: secret}
	}
	return out, nil
}
