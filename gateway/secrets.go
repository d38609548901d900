package gateway

import "strings"

// secrets follows Encore's package-level secrets convention: a struct var
// named `secrets` with string fields, populated by the Encore secrets
// manager at startup (`encore secret set --type prod AdminCredentials`,
// etc.) rather than read from raw environment variables. Multi-valued
// credentials are stored comma-separated since the secrets manager deals
// in strings, not slices.
var secrets struct {
	AdminCredentials  string
	UserCredentials   string
	KVEndpoint        string
	EmbeddingEndpoint string
	LLMEndpoint       string
}

// loadedSecrets is the split, ready-to-use form of the package secrets.
type loadedSecrets struct {
	AdminCredentials  []string
	UserCredentials   []string
	KVEndpoint        string
	EmbeddingEndpoint string
	LLMEndpoint       string
}

func loadSecrets() loadedSecrets {
	return loadedSecrets{
		AdminCredentials:  splitCSV(secrets.AdminCredentials),
		UserCredentials:   splitCSV(secrets.UserCredentials),
		KVEndpoint:        secrets.KVEndpoint,
		EmbeddingEndpoint: secrets.EmbeddingEndpoint,
		LLMEndpoint:       secrets.LLMEndpoint,
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
