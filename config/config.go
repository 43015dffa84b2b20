package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// JWT
	JWTSecret    string
	JWTExpiresIn time.Duration

	// AWS S3
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3BucketName       string

	// Server
	Port   string
	AppEnv string

	// File Upload
	MaxFileSize       int64
	AllowedExtensions string

	// Logging
	LogLevel         string
	LogFile          string
	LogRetentionDays int
	RollbarToken     string

	// LINE
	LineChannelSecret      string
	LineChannelAccessToken string

	// Workflow tuning
	VoteDuration     time.Duration
	AttendancePoints int
	ReportReminderAt string

	// Feature Toggles
	UseRedisNotifications bool
	SkipMigrate           bool
}

// GetDSN builds the connection string for the configured driver.
func (c *Config) GetDSN() string {
	if c.DBDriver == "postgres" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
	}
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true"
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

var AppConfig *Config

// source resolves settings from SSM parameters first, then the process environment.
type source struct {
	params map[string]string
}

func (s source) get(key, def string) string {
	key = strings.ToUpper(key)
	if v := s.params[key]; v != "" {
		return v
	}
	return getEnv(key, def)
}

func (s source) flag(key string) bool {
	return strings.EqualFold(s.get(key, "false"), "true")
}

func (s source) duration(key, def string) time.Duration {
	d, err := ParseDuration(s.get(key, def))
	if err != nil {
		log.Fatalf("Invalid %s: %v", key, err)
	}
	return d
}

// LoadConfig reads configuration from SSM (USE_SSM=true) or from .env and the environment,
// stores it in AppConfig and returns it.
func LoadConfig() *Config {
	src := source{}
	useSSM := strings.EqualFold(getEnv("USE_SSM", "false"), "true")
	if useSSM {
		prefix := strings.TrimRight(getEnv("SSM_BASE_PATH", "/halaqat"), "/") + "/" + getEnv("STAGE", getEnv("APP_ENV", "production"))
		sess, err := session.NewSession(&aws.Config{Region: aws.String(getEnv("AWS_REGION", "me-south-1"))})
		if err != nil {
			log.Fatal("Failed to create AWS session:", err)
		}
		log.Printf("Loading configuration from SSM under %s", prefix)
		src.params = fetchSSMParameters(ssm.New(sess), prefix)
	} else if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	maxFileSize, err := strconv.ParseInt(src.get("MAX_FILE_SIZE", "10485760"), 10, 64)
	if err != nil {
		log.Fatal("Invalid MAX_FILE_SIZE:", err)
	}

	AppConfig = &Config{
		DBDriver:   strings.ToLower(src.get("DB_DRIVER", "mysql")),
		DBHost:     src.get("DB_HOST", "localhost"),
		DBPort:     src.get("DB_PORT", "3306"),
		DBUser:     src.get("DB_USER", "root"),
		DBPassword: src.get("DB_PASSWORD", ""),
		DBName:     src.get("DB_NAME", "halaqat"),

		RedisHost:     src.get("REDIS_HOST", "localhost"),
		RedisPort:     src.get("REDIS_PORT", "6379"),
		RedisPassword: src.get("REDIS_PASSWORD", ""),

		JWTSecret:    src.get("JWT_SECRET", "change_me_halaqat_secret"),
		JWTExpiresIn: src.duration("JWT_EXPIRES_IN", "24h"),

		AWSRegion:          src.get("AWS_REGION", "me-south-1"),
		AWSAccessKeyID:     src.get("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: src.get("AWS_SECRET_ACCESS_KEY", ""),
		S3BucketName:       src.get("S3_BUCKET_NAME", ""),

		Port:   src.get("PORT", "3000"),
		AppEnv: src.get("APP_ENV", "development"),

		MaxFileSize:       maxFileSize,
		AllowedExtensions: src.get("ALLOWED_EXTENSIONS", "jpg,jpeg,png,webp,gif"),

		LogLevel:         src.get("LOG_LEVEL", "info"),
		LogFile:          src.get("LOG_FILE", "logs/app.log"),
		LogRetentionDays: getInt(src.get("LOG_RETENTION_DAYS", "90"), 90),
		RollbarToken:     src.get("ROLLBAR_TOKEN", ""),

		LineChannelSecret:      src.get("LINE_CHANNEL_SECRET", ""),
		LineChannelAccessToken: src.get("LINE_CHANNEL_ACCESS_TOKEN", ""),

		VoteDuration:     src.duration("VOTE_DURATION", "3d"),
		AttendancePoints: getInt(src.get("ATTENDANCE_POINTS", "1"), 1),
		ReportReminderAt: src.get("REPORT_REMINDER_AT", "0 20 * * *"),

		UseRedisNotifications: src.flag("USE_REDIS_NOTIFICATIONS"),
		SkipMigrate:           src.flag("SKIP_MIGRATE"),
	}

	validateConfig(AppConfig, useSSM)
	return AppConfig
}

// ParseDuration accepts Go durations plus the day/week shorthands "3d" and "2w".
func ParseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err == nil {
		return d, nil
	}
	s := strings.TrimSpace(strings.ToLower(raw))
	if len(s) > 1 {
		unit := s[len(s)-1]
		if n, convErr := strconv.Atoi(s[:len(s)-1]); convErr == nil && n >= 0 {
			switch unit {
			case 'd':
				return time.Duration(n) * 24 * time.Hour, nil
			case 'w':
				return time.Duration(n*7) * 24 * time.Hour, nil
			}
		}
	}
	return 0, err
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return n
}

// fetchSSMParameters reads every parameter below prefix, keyed by the upper-cased last path segment.
func fetchSSMParameters(client *ssm.SSM, prefix string) map[string]string {
	out := make(map[string]string)
	in := &ssm.GetParametersByPathInput{
		Path:           aws.String(prefix),
		WithDecryption: aws.Bool(true),
		Recursive:      aws.Bool(true),
	}
	err := client.GetParametersByPathPages(in, func(page *ssm.GetParametersByPathOutput, _ bool) bool {
		for _, p := range page.Parameters {
			name, value := aws.StringValue(p.Name), aws.StringValue(p.Value)
			key := strings.ToUpper(name[strings.LastIndex(name, "/")+1:])
			if key != "" {
				out[key] = value
			}
		}
		return true
	})
	if err != nil {
		log.Printf("Warning: SSM parameters under %s not loaded: %v", prefix, err)
	}
	return out
}

func validateConfig(c *Config, usedSSM bool) {
	if c.DBDriver != "mysql" && c.DBDriver != "postgres" {
		log.Fatalf("Unsupported DB_DRIVER %q (mysql, postgres)", c.DBDriver)
	}
	// Only enforce stricter rules in production
	if strings.ToLower(c.AppEnv) != "production" {
		return
	}
	required := map[string]string{
		"DB_PASSWORD": c.DBPassword,
		"JWT_SECRET":  c.JWTSecret,
	}
	for k, v := range required {
		if strings.TrimSpace(v) == "" {
			log.Fatalf("Missing required secret %s in production (SSM=%v)", k, usedSSM)
		}
	}
	if len(c.JWTSecret) < 16 {
		log.Fatal("JWT_SECRET too short (min 16 chars)")
	}
}
