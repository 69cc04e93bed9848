package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// AppName é o nome do aplicativo
	AppName = "Butler"

	// AppVersion é a versão atual
	AppVersion = "1.0.0"

	// AppBundleID é o bundle identifier macOS (também usado como serviço do Keychain)
	AppBundleID = "com.butler.app"

	// DBFileName é o nome do arquivo SQLite
	DBFileName = "butler_data.db"

	// DefaultAPIURL é a URL base da API cloud
	DefaultAPIURL = "https://app.gitbutler.com/api"

	// LoginDwell é o tempo mínimo assumido para o usuário concluir o fluxo no navegador
	LoginDwell = 4 * time.Second

	// LoginPollInterval é o intervalo entre consultas de status do login
	LoginPollInterval = time.Second

	// LoginPollAttempts é o número máximo de consultas (~2 minutos)
	LoginPollAttempts = 120
)

// Store backends suportados para o registro do usuário
const (
	StoreKeyring = "keyring"
	StoreSQLite  = "sqlite"
	StoreMemory  = "memory"
)

// Config agrega as configurações de runtime lidas do ambiente.
type Config struct {
	APIURL string `env:"BUTLER_API_URL"`
	Store  string `env:"BUTLER_STORE" envDefault:"keyring"`
	DBPath string `env:"BUTLER_DB_PATH"`

	AnalyticsURL string `env:"BUTLER_ANALYTICS_URL" envDefault:"https://eu.posthog.com"`
	AnalyticsKey string `env:"BUTLER_ANALYTICS_KEY"`
	OTelEndpoint string `env:"BUTLER_OTEL_ENDPOINT"`

	GatewayAddr string `env:"BUTLER_GATEWAY_ADDR" envDefault:"127.0.0.1:9899"`

	LoginDwell        time.Duration `env:"BUTLER_LOGIN_DWELL"`
	LoginPollInterval time.Duration `env:"BUTLER_LOGIN_POLL_INTERVAL"`
	LoginPollAttempts int           `env:"BUTLER_LOGIN_POLL_ATTEMPTS"`
}

// Load lê a configuração do ambiente e aplica os defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.Store == "" {
		c.Store = StoreKeyring
	}
	if c.DBPath == "" {
		c.DBPath = DBPath()
	}
	if c.LoginDwell <= 0 {
		c.LoginDwell = LoginDwell
	}
	if c.LoginPollInterval <= 0 {
		c.LoginPollInterval = LoginPollInterval
	}
	if c.LoginPollAttempts <= 0 {
		c.LoginPollAttempts = LoginPollAttempts
	}
}

// Validate rejeita combinações inválidas.
func (c Config) Validate() error {
	switch c.Store {
	case StoreKeyring, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	return nil
}

// DataDir retorna o diretório raiz de dados do app
// ~/Library/Application Support/Butler/
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "Application Support", AppName)
}

// DBPath retorna o caminho do arquivo SQLite
func DBPath() string {
	return filepath.Join(DataDir(), DBFileName)
}

// LogDir retorna o diretório de logs
func LogDir() string {
	return filepath.Join(DataDir(), "logs")
}

// EnsureDataDirs cria os diretórios necessários se não existirem
func EnsureDataDirs() error {
	for _, dir := range []string{DataDir(), LogDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}
