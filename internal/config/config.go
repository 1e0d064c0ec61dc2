package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment    string
	APIToken       string
	DBHost         string
	DBPort         string
	DBUsername     string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	IMAPServer     string
	IMAPUsername   string
	IMAPPassword   string
	IMAPUseTLS     bool
	PreferPlain    bool
	TagColorsFile  string
	MaxSubscribers int
	Port           string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("THREADVIEW_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	maxSubscribers, err := strconv.Atoi(getEnvOrDefault("THREADVIEW_MAX_SUBSCRIBERS", "10"))
	if err != nil {
		return nil, fmt.Errorf("THREADVIEW_MAX_SUBSCRIBERS is not a number: %w", err)
	}

	config := &Config{
		Environment:    env,
		APIToken:       os.Getenv("THREADVIEW_API_TOKEN"),
		DBHost:         getEnvOrDefault("THREADVIEW_DB_HOST", "localhost"),
		DBPort:         getEnvOrDefault("THREADVIEW_DB_PORT", "5432"),
		DBUsername:     getEnvOrDefault("THREADVIEW_DB_USER", "threadview"),
		DBPassword:     os.Getenv("THREADVIEW_DB_PASSWORD"),
		DBName:         getEnvOrDefault("THREADVIEW_DB_NAME", "threadview"),
		DBSSLMode:      getEnvOrDefault("THREADVIEW_DB_SSLMODE", "disable"),
		IMAPServer:     os.Getenv("THREADVIEW_IMAP_SERVER"),
		IMAPUsername:   os.Getenv("THREADVIEW_IMAP_USER"),
		IMAPPassword:   os.Getenv("THREADVIEW_IMAP_PASSWORD"),
		IMAPUseTLS:     getEnvOrDefault("THREADVIEW_IMAP_TLS", "true") == "true",
		PreferPlain:    os.Getenv("THREADVIEW_PREFER_PLAIN") == "true",
		TagColorsFile:  os.Getenv("THREADVIEW_TAG_COLORS_FILE"),
		MaxSubscribers: maxSubscribers,
		Port:           getEnvOrDefault("PORT", "8080"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.APIToken == "" {
		return fmt.Errorf("THREADVIEW_API_TOKEN is required")
	}

	if !validPort(c.Port) {
		return fmt.Errorf("PORT is not a valid port number: %q", c.Port)
	}

	if c.PersistenceEnabled() && !validPort(c.DBPort) {
		return fmt.Errorf("THREADVIEW_DB_PORT is not a valid port number: %q", c.DBPort)
	}

	if c.IMAPServer != "" && (c.IMAPUsername == "" || c.IMAPPassword == "") {
		return fmt.Errorf("THREADVIEW_IMAP_USER and THREADVIEW_IMAP_PASSWORD are required when THREADVIEW_IMAP_SERVER is set")
	}

	if c.MaxSubscribers < 1 {
		return fmt.Errorf("THREADVIEW_MAX_SUBSCRIBERS must be at least 1")
	}

	return nil
}

// PersistenceEnabled reports whether view state is stored in Postgres.
func (c *Config) PersistenceEnabled() bool {
	return c.DBPassword != ""
}

// IMAPEnabled reports whether threads can be loaded from an IMAP server.
func (c *Config) IMAPEnabled() bool {
	return c.IMAPServer != ""
}

func (c *Config) GetDatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

func validPort(port string) bool {
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
