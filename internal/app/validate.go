package app

import (
	"fmt"
	"os"

	"relaydb/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	if p := eff.DBPath; p == "" {
		return fmt.Errorf("database path is empty: set --db flag, RELAYDB_DB_PATH env, or server.db_path in config")
	}

	// TLS cert/key presence check if one is set
	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	switch eff.Config.Fanout.Policy {
	case "", "unique", "allow-duplicates":
	default:
		return fmt.Errorf("invalid fanout.policy %q: use \"unique\" or \"allow-duplicates\"", eff.Config.Fanout.Policy)
	}

	if d := eff.Config.Threads.MaxDepth; d < 0 {
		return fmt.Errorf("threads.max_depth must not be negative")
	}
	return nil
}
