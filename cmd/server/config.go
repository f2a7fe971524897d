package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Auth struct {
		SigningKey         string
		TokenExpiration    int
		RefreshExpiration  int
		Issuer             string
		Audience           []string
		RedirectionURL     string
		ConfirmationWindow string
	}
	Email struct {
		From        string
		APIURL      string
		ServerToken string
	}
}

// Load reads configuration from environment variables and an optional
// config file next to the binary.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:9000")
	v.SetDefault("database.path", "data/auth.db")
	v.SetDefault("auth.signingkey", "")
	v.SetDefault("auth.tokenexpiration", 1)
	v.SetDefault("auth.refreshexpiration", 720)
	v.SetDefault("auth.issuer", "auth-server")
	v.SetDefault("auth.audience", []string{})
	v.SetDefault("auth.redirectionurl", "http://localhost:9000")
	v.SetDefault("auth.confirmationwindow", "24h")
	v.SetDefault("email.from", "no-reply@localhost")
	v.SetDefault("email.apiurl", "")
	v.SetDefault("email.servertoken", "")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Auth.SigningKey == "" {
		return Config{}, fmt.Errorf("auth.signingkey is required")
	}

	return cfg, nil
}

// auth.Config implementation

func (c Config) GetSigningKey() string         { return c.Auth.SigningKey }
func (c Config) GetTokenExpiration() int       { return c.Auth.TokenExpiration }
func (c Config) GetRefreshExpiration() int     { return c.Auth.RefreshExpiration }
func (c Config) GetIssuer() string             { return c.Auth.Issuer }
func (c Config) GetAudience() []string         { return c.Auth.Audience }
func (c Config) GetRedirectionURL() string     { return c.Auth.RedirectionURL }
func (c Config) GetEmailFrom() string          { return c.Email.From }
func (c Config) GetConfirmationWindow() string { return c.Auth.ConfirmationWindow }
