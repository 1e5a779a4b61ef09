// Command possale-token mints a bearer token for a till or back-office user
// using the server's auth secret.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"possale/backend/internal/config"
	"possale/backend/internal/httpapi"
)

func main() {
	configPath := flag.String("config", os.Getenv("POSSALE_CONFIG"), "path to a YAML config file")
	subject := flag.String("subject", "", "actor id recorded on sales (required)")
	role := flag.String("role", httpapi.RoleCashier, "cashier or admin")
	ttl := flag.Duration("ttl", 8*time.Hour, "token lifetime")
	flag.Parse()

	if err := run(*configPath, *subject, *role, *ttl); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, subject, role string, ttl time.Duration) error {
	if role != httpapi.RoleCashier && role != httpapi.RoleAdmin {
		return fmt.Errorf("unknown role %q", role)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	token, err := httpapi.NewTokenAuth(cfg.Auth.Secret, cfg.Auth.Issuer).Sign(subject, role, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
