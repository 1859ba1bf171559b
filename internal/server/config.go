package server

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"kyri56xcaesar/pms-kanban/internal/logger"
)

const (
	AuthLocal    = "local"
	AuthKeycloak = "keycloak"

	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	ConfigPath string
	Profile    string
	ApiGinMode string

	Ip   string
	Port string

	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string

	// auth
	AuthProvider     string
	JWTSecret        string `mask:"true"`
	JWTTTL           time.Duration
	AllowAdminSignup bool
	SecureCookie     bool
	AdminName        string
	AdminEmail       string
	AdminPassword    string `mask:"true"`

	//kc
	AuthAddress  string
	Realm        string
	ClientID     string
	ClientSecret string `mask:"true"`
	Audience     string

	// database
	DBDriver   string
	DBAddress  string
	DBUser     string
	DBPassword string `mask:"true"`
	DBName     string
	DBSSL      bool
	MongoURI   string `mask:"true"`
	MongoDB    string

	// optional infrastructure, disabled when the address is empty
	RedisURL          string `mask:"true"`
	SummaryTTL        time.Duration
	NatsURL           string
	NatsSubjectPrefix string
	S3Endpoint        string
	S3AccessKey       string `mask:"true"`
	S3SecretKey       string `mask:"true"`
	S3Bucket          string
	S3UseSSL          bool
	S3Region          string
	ExportURLTTL      time.Duration

	Log logger.Config
}

func loadConfig(path string) Config {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			logger.Warn("failed to load the config file, using defaults", "path", path, "error", err)
		}
	}

	s := strings.Split(path, "/")
	defaults := logger.DefaultConfig()

	return Config{
		ConfigPath: s[len(s)-1],
		Profile:    getEnv("PROFILE", "baremetal"),
		ApiGinMode: getEnv("GIN_MODE", "debug"),

		Ip:             getEnv("IP", "localhost"),
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnvFields("ALLOW_ORIGINS", []string{"*"}),
		AllowedMethods: getEnvFields("ALLOW_METHODS", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}),
		AllowedHeaders: getEnvFields("ALLOW_HEADERS", []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}),

		AuthProvider:     strings.ToLower(getEnv("AUTH_PROVIDER", AuthLocal)),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTTTL:           getDurationEnv("JWT_TTL", 24*time.Hour),
		AllowAdminSignup: getBoolEnv("ALLOW_ADMIN_SIGNUP", "false"),
		SecureCookie:     getBoolEnv("SECURE_COOKIE", "false"),
		AdminName:        getEnv("ADMIN_NAME", "Administrator"),
		AdminEmail:       getEnv("ADMIN_EMAIL", ""),
		AdminPassword:    getEnv("ADMIN_PASSWORD", ""),

		AuthAddress:  getEnv("AUTH_ADDRESS", "localhost:5555"),
		Realm:        getEnv("KC_REALM", "pms-kanban"),
		ClientID:     getEnv("KC_CLIENT", "pms-kanban-api"),
		ClientSecret: getEnv("KC_CLIENT_SECRET", ""),
		Audience:     getEnv("KC_AUDIENCE", "pms-kanban-api"),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", DriverMemory)),
		DBAddress:  getEnv("DB_ADDRESS", "localhost:5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "kanban"),
		DBSSL:      getBoolEnv("DB_SSL", "false"),
		MongoURI:   getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:    getEnv("MONGO_DB", "kanban"),

		RedisURL:          getEnv("REDIS_URL", ""),
		SummaryTTL:        getDurationEnv("SUMMARY_TTL", time.Minute),
		NatsURL:           getEnv("NATS_URL", ""),
		NatsSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "kanban"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("S3_SECRET_KEY", ""),
		S3Bucket:          getEnv("S3_BUCKET", "kanban-exports"),
		S3UseSSL:          getBoolEnv("S3_USE_SSL", "false"),
		S3Region:          getEnv("S3_REGION", ""),
		ExportURLTTL:      getDurationEnv("EXPORT_URL_TTL", 24*time.Hour),

		Log: logger.Config{
			Level:      getEnv("LOG_LEVEL", defaults.Level),
			Format:     getEnv("LOG_FORMAT", defaults.Format),
			Output:     getEnv("LOG_OUTPUT", defaults.Output),
			FilePath:   getEnv("LOG_FILE", defaults.FilePath),
			MaxSize:    getIntEnv("LOG_MAX_SIZE", defaults.MaxSize),
			MaxBackups: getIntEnv("LOG_MAX_BACKUPS", defaults.MaxBackups),
			MaxAge:     getIntEnv("LOG_MAX_AGE", defaults.MaxAge),
			Compress:   defaults.Compress,
		},
	}
}

// validate reports settings the server cannot start with.
func (cfg *Config) validate() error {
	switch cfg.AuthProvider {
	case AuthLocal:
		if cfg.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required with AUTH_PROVIDER=%s", AuthLocal)
		}
	case AuthKeycloak:
		if cfg.ClientSecret == "" {
			return fmt.Errorf("KC_CLIENT_SECRET is required with AUTH_PROVIDER=%s", AuthKeycloak)
		}
	default:
		return fmt.Errorf("unknown AUTH_PROVIDER %q", cfg.AuthProvider)
	}

	switch cfg.DBDriver {
	case DriverMemory, DriverPostgres, DriverMongo:
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}

	if !logger.ValidOutput(cfg.Log.Output) {
		return fmt.Errorf("unknown LOG_OUTPUT %q, expected stdout, file or both", cfg.Log.Output)
	}

	if cfg.S3Endpoint != "" && (cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required with S3_ENDPOINT")
	}
	return nil
}

func getEnv(env, fallback string) string {
	if value, exists := os.LookupEnv(env); exists {
		return value
	}

	return fallback
}

func getEnvFields(env string, fallback []string) []string {
	if value, exists := os.LookupEnv(env); exists {
		fields := strings.Split(strings.TrimSpace(value), ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		return fields
	}

	return fallback
}

func getBoolEnv(env, fallback string) bool {
	if value, exists := os.LookupEnv(env); exists {
		return strings.ToLower(value) == "true"
	}

	return strings.ToLower(fallback) == "true"
}

func getIntEnv(env string, fallback int) int {
	if value, exists := os.LookupEnv(env); exists {
		intValue, err := strconv.Atoi(value)
		if err == nil {
			return intValue
		}
	}

	return fallback
}

func getDurationEnv(env string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(env); exists {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}

	return fallback
}

// toString dumps the configuration one field per line, masking fields
// tagged mask:"true".
func (cfg *Config) toString() string {
	var strBuilder strings.Builder

	reflectedValues := reflect.ValueOf(cfg).Elem()
	reflectedTypes := reflect.TypeOf(cfg).Elem()

	strBuilder.WriteString(fmt.Sprintf("[CFG]CONFIGURATION: %s\n", cfg.ConfigPath))

	for i := range reflectedValues.NumField() {
		field := reflectedTypes.Field(i)
		fieldValue := reflectedValues.Field(i).Interface()

		if field.Tag.Get("mask") == "true" {
			fieldValue = mask(fmt.Sprint(fieldValue))
		}

		strBuilder.WriteString(fmt.Sprintf("[CFG]%2d. %-20s -> %v\n", i+1, field.Name, fieldValue))
	}

	return strBuilder.String()
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
