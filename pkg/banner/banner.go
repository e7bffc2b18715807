package banner

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"relaydb/pkg/config"
	"relaydb/pkg/store"
)

const banner = `
██████╗ ███████╗██╗      █████╗ ██╗   ██╗██████╗ ██████╗
██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝██╔══██╗██╔══██╗
██████╔╝█████╗  ██║     ███████║ ╚████╔╝ ██║  ██║██████╔╝
██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝  ██║  ██║██╔══██╗
██║  ██║███████╗███████╗██║  ██║   ██║   ██████╔╝██████╔╝
╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝   ╚═════╝ ╚═════╝
`

// PrintWithEff prints the startup banner using the effective config for
// runtime context (addresses, key material presence, sweep schedule).
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if sz := store.DBSizeBytes(); sz > 0 {
		fmt.Printf("DB Size:  %s\n", humanize.Bytes(sz))
	}
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/users                      - Register a user")
	fmt.Println("POST /v1/conversations              - Create a conversation")
	fmt.Println("POST /v1/messages                   - Send a message (fans out notifications)")
	fmt.Println("PUT  /v1/messages/{id}              - Edit a message (records history)")
	fmt.Println("GET  /v1/messages/{id}/history      - Edit snapshots, newest first")
	fmt.Println("GET  /v1/messages/{id}/replies      - Threaded reply tree")
	fmt.Println("GET  /v1/notifications              - Notifications for the acting user")
	fmt.Println("GET  /v1/users/{id}/unread          - Unread inbox")

	fmt.Println("\n== Production? =================================================")
	be, fe, ak := 0, 0, 0
	if eff.Config != nil {
		be = len(eff.Config.Security.APIKeys.Backend)
		fe = len(eff.Config.Security.APIKeys.Frontend)
		ak = len(eff.Config.Security.APIKeys.Admin)
	}
	if be > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", be)
	} else {
		fmt.Println("- Backend API keys: MISSING (required for backend services)")
	}
	if fe > 0 {
		fmt.Printf("- Frontend API keys: OK (%d)\n", fe)
	} else {
		fmt.Println("- Frontend API keys: MISSING (required for client access)")
	}
	if ak > 0 {
		fmt.Printf("- Admin API keys: OK (%d)\n", ak)
	} else {
		fmt.Println("- Admin API keys: MISSING (required for admin tooling)")
	}

	if eff.Config != nil && eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}

	policy := "unique"
	if eff.Config != nil && eff.Config.Fanout.Policy != "" {
		policy = eff.Config.Fanout.Policy
	}
	fmt.Printf("- Fan-out policy: %s\n", policy)

	if eff.Config != nil && eff.Config.Retention.Enabled {
		cron := eff.Config.Retention.Cron
		if cron == "" {
			cron = "0 2 * * *"
		}
		fmt.Printf("- Orphan sweep: enabled (cron=%s)\n", cron)
	} else {
		fmt.Println("- Orphan sweep: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
