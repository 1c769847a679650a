package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/thenexusengine/tne_dooh/internal/adapters"
	"github.com/thenexusengine/tne_dooh/internal/adapters/hivestack"
	"github.com/thenexusengine/tne_dooh/internal/adapters/vistar"
	dconfig "github.com/thenexusengine/tne_dooh/internal/config"
	"github.com/thenexusengine/tne_dooh/internal/creative"
	"github.com/thenexusengine/tne_dooh/internal/exchange"
	"github.com/thenexusengine/tne_dooh/internal/partner"
	"github.com/thenexusengine/tne_dooh/internal/token"
)

// ServerConfig holds all server configuration
type ServerConfig struct {
	// Server
	Port        string
	Timeout     time.Duration
	ContextPath string

	// Database
	DatabaseConfig *DatabaseConfig

	// Redis
	RedisURL string

	// Inbound protection
	RateLimitRPS   int
	RateLimitBurst int
	TrustedProxies string

	Partners   PartnerToggles
	Hivestack  hivestack.Config
	Vistar     VistarConfig
	Reach      ReachConfig
	Creative   CreativeConfig
	Thumbor    ThumborConfig
	VastServer VastServerConfig

	BidPrice      decimal.Decimal
	VastCacheSize int

	SweepInterval     time.Duration
	SweepInitialDelay time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// PartnerToggles switches each partner variant on or off
type PartnerToggles struct {
	Vistar       bool
	VistarFrench bool
	Hivestack    bool
}

// VistarConfig holds the Vistar endpoints shared by both languages
type VistarConfig struct {
	StagingBaseURL      string
	ProductionBaseURL   string
	AdServingPath       string
	CreativeCachingPath string
	NetworkID           string
	APIKey              string
	FrenchNetworkID     string
	FrenchAPIKey        string
}

// ReachConfig holds the creative platform endpoints and accounts
type ReachConfig struct {
	BaseURL      string
	TokenPath    string
	CreativePath string
	Credentials  map[partner.Partner]token.Credentials
}

// CreativeConfig is the static creative metadata
type CreativeConfig struct {
	HivestackAdvertiserID    int
	VistarAdvertiserID       int
	VistarFrenchAdvertiserID int
	PublisherID              int
	PublisherName            string
	IABCategoryID            int
	HivestackName            string
	Namespace                string
}

// ThumborConfig enables PNG to JPEG rewriting
type ThumborConfig struct {
	Enabled bool
	Server  string
	Key     string
}

// VastServerConfig is where SSPs reach this service
type VastServerConfig struct {
	BaseURL            string
	CachedDocumentPath string
	NURLTemplate       string
	LURLTemplate       string
}

// ParseConfig parses configuration from flags and environment variables.
// A .env file in the working directory is loaded first when present.
func ParseConfig() (*ServerConfig, error) {
	_ = godotenv.Load()
	return parseConfig(flag.CommandLine, os.Args[1:])
}

func parseConfig(fs *flag.FlagSet, args []string) (*ServerConfig, error) {
	port := fs.String("port", getEnvOrDefault("PORT", "8080"), "Server port")
	timeout := fs.Duration("timeout", getEnvDurationOrDefault("BID_TIMEOUT", dconfig.DefaultBidTimeout), "Partner round trip budget")
	contextPath := fs.String("context-path", getEnvOrDefault("CONTEXT_PATH", ""), "Path prefix of every route")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	price, err := decimal.NewFromString(getEnvOrDefault("BID_PRICE", dconfig.DefaultBidPrice))
	if err != nil {
		return nil, fmt.Errorf("invalid BID_PRICE: %w", err)
	}

	cfg := &ServerConfig{
		Port:           *port,
		Timeout:        *timeout,
		ContextPath:    strings.TrimSuffix(*contextPath, "/"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RateLimitRPS:   getEnvIntOrDefault("RATE_LIMIT_RPS", dconfig.DefaultRPS),
		RateLimitBurst: getEnvIntOrDefault("RATE_LIMIT_BURST", dconfig.DefaultBurstSize),
		TrustedProxies: os.Getenv("TRUSTED_PROXIES"),
		Partners: PartnerToggles{
			Vistar:       getEnvBoolOrDefault("VISTAR_ENABLED", true),
			VistarFrench: getEnvBoolOrDefault("VISTAR_FRENCH_ENABLED", true),
			Hivestack:    getEnvBoolOrDefault("HIVESTACK_ENABLED", true),
		},
		Hivestack: hivestack.Config{
			BaseURL:           os.Getenv("HIVESTACK_BASE_URL"),
			ScheduleVASTPath:  getEnvOrDefault("HIVESTACK_SCHEDULE_VAST_PATH", "/api/v1/units/{display}/schedulevast"),
			UpcomingCreatives: getEnvOrDefault("HIVESTACK_UPCOMING_CREATIVES_PATH", "/api/v1/units/{display}/creatives"),
		},
		Vistar: VistarConfig{
			StagingBaseURL:      os.Getenv("VISTAR_STAGING_BASE_URL"),
			ProductionBaseURL:   os.Getenv("VISTAR_PRODUCTION_BASE_URL"),
			AdServingPath:       getEnvOrDefault("VISTAR_AD_SERVING_PATH", "/api/v1/get_ad/json"),
			CreativeCachingPath: getEnvOrDefault("VISTAR_CREATIVE_CACHING_PATH", "/api/v1/get_asset/json"),
			NetworkID:           os.Getenv("VISTAR_NETWORK_ID"),
			APIKey:              os.Getenv("VISTAR_API_KEY"),
			FrenchNetworkID:     os.Getenv("VISTAR_FRENCH_NETWORK_ID"),
			FrenchAPIKey:        os.Getenv("VISTAR_FRENCH_API_KEY"),
		},
		Reach: ReachConfig{
			BaseURL:      os.Getenv("REACH_BASE_URL"),
			TokenPath:    getEnvOrDefault("REACH_TOKEN_PATH", "/oauth2/token"),
			CreativePath: getEnvOrDefault("REACH_CREATIVE_PATH", "/api/creatives"),
			Credentials: map[partner.Partner]token.Credentials{
				partner.Hivestack:    {Username: os.Getenv("REACH_HIVESTACK_USERNAME"), Password: os.Getenv("REACH_HIVESTACK_PASSWORD")},
				partner.Vistar:       {Username: os.Getenv("REACH_VISTAR_USERNAME"), Password: os.Getenv("REACH_VISTAR_PASSWORD")},
				partner.VistarFrench: {Username: os.Getenv("REACH_VISTAR_FRENCH_USERNAME"), Password: os.Getenv("REACH_VISTAR_FRENCH_PASSWORD")},
			},
		},
		Creative: CreativeConfig{
			HivestackAdvertiserID:    getEnvIntOrDefault("CREATIVE_HIVESTACK_ADVERTISER_ID", 0),
			VistarAdvertiserID:       getEnvIntOrDefault("CREATIVE_VISTAR_ADVERTISER_ID", 0),
			VistarFrenchAdvertiserID: getEnvIntOrDefault("CREATIVE_VISTAR_FRENCH_ADVERTISER_ID", 0),
			PublisherID:              getEnvIntOrDefault("CREATIVE_PUBLISHER_ID", 0),
			PublisherName:            os.Getenv("CREATIVE_PUBLISHER_NAME"),
			IABCategoryID:            getEnvIntOrDefault("CREATIVE_IAB_CATEGORY_ID", 0),
			HivestackName:            getEnvOrDefault("CREATIVE_HIVESTACK_NAME", "Hivestack"),
			Namespace:                os.Getenv("CREATIVE_NAMESPACE"),
		},
		Thumbor: ThumborConfig{
			Enabled: getEnvBoolOrDefault("THUMBOR_ENABLED", false),
			Server:  os.Getenv("THUMBOR_SERVER"),
			Key:     os.Getenv("THUMBOR_KEY"),
		},
		VastServer: VastServerConfig{
			BaseURL:            os.Getenv("VASTSERVER_BASE_URL"),
			CachedDocumentPath: getEnvOrDefault("VASTSERVER_CACHED_DOCUMENT_PATH", "/cachedDocuments/"),
			NURLTemplate:       os.Getenv("REACH_NURL"),
			LURLTemplate:       os.Getenv("REACH_LURL"),
		},
		BidPrice:          price,
		VastCacheSize:     getEnvIntOrDefault("VAST_CACHE_SIZE", dconfig.VastCacheSize),
		SweepInterval:     getEnvDurationOrDefault("SWEEP_INTERVAL", dconfig.SweepInterval),
		SweepInitialDelay: getEnvDurationOrDefault("SWEEP_INITIAL_DELAY", dconfig.SweepInitialDelay),
	}

	// Parse database config if DB_HOST is set
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.DatabaseConfig = &DatabaseConfig{
			Host:     dbHost,
			Port:     getEnvOrDefault("DB_PORT", "5432"),
			User:     getEnvOrDefault("DB_USER", "dooh"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "dooh"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		}
	}

	return cfg, nil
}

// ToExchangeConfig converts ServerConfig to exchange.Config
func (c *ServerConfig) ToExchangeConfig() *exchange.Config {
	return &exchange.Config{
		Timeout: c.Timeout,
		Enabled: map[partner.Partner]bool{
			partner.Vistar:       c.Partners.Vistar,
			partner.VistarFrench: c.Partners.VistarFrench,
			partner.Hivestack:    c.Partners.Hivestack,
		},
	}
}

// ToBidderConfig converts ServerConfig to adapters.BidderConfig
func (c *ServerConfig) ToBidderConfig() adapters.BidderConfig {
	return adapters.BidderConfig{
		Price:              c.BidPrice,
		VastServerBase:     c.VastServer.BaseURL,
		ContextPath:        c.ContextPath,
		CachedDocumentPath: c.VastServer.CachedDocumentPath,
		NURLTemplate:       c.VastServer.NURLTemplate,
		LURLTemplate:       c.VastServer.LURLTemplate,
		Timeout:            dconfig.DefaultPartnerTimeout,
	}
}

// ToTokenConfig converts ServerConfig to token.Config
func (c *ServerConfig) ToTokenConfig() token.Config {
	return token.Config{
		BaseURL:     c.Reach.BaseURL,
		TokenPath:   c.Reach.TokenPath,
		Credentials: c.Reach.Credentials,
		Backoff:     dconfig.TokenRetryBackoff,
	}
}

// ToMetadata converts ServerConfig to the creative registration metadata
func (c *ServerConfig) ToMetadata() creative.Metadata {
	return creative.Metadata{
		AdvertiserIDs: map[partner.Partner]int{
			partner.Hivestack:    c.Creative.HivestackAdvertiserID,
			partner.Vistar:       c.Creative.VistarAdvertiserID,
			partner.VistarFrench: c.Creative.VistarFrenchAdvertiserID,
		},
		PublisherID:   c.Creative.PublisherID,
		PublisherName: c.Creative.PublisherName,
		IABCategoryID: c.Creative.IABCategoryID,
		HivestackName: c.Creative.HivestackName,
	}
}

// VistarAdapterConfig returns the endpoints of one Vistar language. Both
// languages bid against the staging base; French discovery uses production.
func (c *ServerConfig) VistarAdapterConfig(p partner.Partner) vistar.Config {
	v := c.Vistar
	if p == partner.VistarFrench {
		return vistar.Config{
			AdServingURL:       v.StagingBaseURL + v.AdServingPath,
			CreativeCachingURL: v.ProductionBaseURL + v.CreativeCachingPath,
			NetworkID:          v.FrenchNetworkID,
			APIKey:             v.FrenchAPIKey,
		}
	}
	return vistar.Config{
		AdServingURL:       v.StagingBaseURL + v.AdServingPath,
		CreativeCachingURL: v.StagingBaseURL + v.CreativeCachingPath,
		NetworkID:          v.NetworkID,
		APIKey:             v.APIKey,
	}
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable as bool or a default
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvIntOrDefault returns the environment variable as int or a default
func getEnvIntOrDefault(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvDurationOrDefault accepts Go durations ("90s") or plain milliseconds
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
