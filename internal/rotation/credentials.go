// Package rotation implements quota-aware credential rotation for the
// governance reviewer backend. A pool of API keys is tried in order; quota
// exhaustion marks a credential out until its reset time, capacity errors
// back off and retry the same credential, auth errors skip it for the run.
// State persists across process lifetimes so exhaustion survives restarts.
package rotation

import (
	"encoding/json"
	"fmt"
	"os"
)

// Credential is one API key in the rotation pool.
type Credential struct {
	Name        string `json:"name"`
	Key         string `json:"key"`
	Enabled     bool   `json:"enabled"`
	AccountName string `json:"account-name,omitempty"`
}

type credentialsFile struct {
	Credentials []json.RawMessage `json:"credentials"`
}

// LoadCredentials reads the credential pool from a JSON file of shape
// {"credentials": [{name, key, enabled, account-name}]}. Entries default
// to enabled when the field is absent.
func LoadCredentials(path string) ([]Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("credentials file not found: %s (create it with your API keys)", path)
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var file credentialsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}

	creds := make([]Credential, 0, len(file.Credentials))
	for _, raw := range file.Credentials {
		c := Credential{Name: "unnamed", Enabled: true}
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("parse credential entry: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, nil
}
