package postgres

import (
	"fmt"

	"github.com/coophabitat/finance-engine/config"
)

// DSN returns cfg.DSN when set, otherwise a key/value DSN built from the
// individual settings.
func DSN(cfg *config.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name,
	)
}
