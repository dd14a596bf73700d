package session

import (
	"os"

	"github.com/matheus3301/bunnychat/internal/config"
)

const DefaultSessionName = "main"

// EnvSession selects the session when no --session flag is given.
const EnvSession = "BUNNYCHAT_SESSION"

// Resolve picks the active session: the --session flag, then
// $BUNNYCHAT_SESSION, then default_session from config.toml, then "main".
// An unreadable config file falls through to the default.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if name := os.Getenv(EnvSession); name != "" {
		return name
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
