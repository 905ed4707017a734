package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	AdminEmail            string
	AdminPassword         string
	ReorderHorizonDays    int
	ReorderCoverDays      int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	horizon, err := strconv.Atoi(getEnv("REORDER_HORIZON_DAYS", "14"))
	if err != nil || horizon < 1 {
		horizon = 14
	}
	cover, err := strconv.Atoi(getEnv("REORDER_COVER_DAYS", "7"))
	if err != nil || cover < 1 {
		cover = 7
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		AdminEmail:            strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword:         os.Getenv("ADMIN_PASSWORD"),
		ReorderHorizonDays:    horizon,
		ReorderCoverDays:      cover,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
