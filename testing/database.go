// Package testing provides test utilities and database setup for the reporting service
package testing

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/dormup/dormup-discounts/models"
	"github.com/dormup/dormup-discounts/utils"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver for database/sql
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDBConfig holds configuration for test database connections
type TestDBConfig struct {
	Driver   string // sqlite or postgres
	Host     string
	Port     int
	User     string
	Password string
	SSLMode  string
}

// GetTestDBConfig loads test database configuration from environment variables
func GetTestDBConfig() *TestDBConfig {
	return &TestDBConfig{
		Driver:   getEnv("TEST_DB_DRIVER", "sqlite"),
		Host:     getEnv("TEST_DB_HOST", "localhost"),
		Port:     getEnvAsInt("TEST_DB_PORT", 5432),
		User:     getEnv("TEST_DB_USER", "postgres"),
		Password: getEnv("TEST_DB_PASSWORD", "postgres"),
		SSLMode:  getEnv("TEST_DB_SSL_MODE", "disable"),
	}
}

// TestDB represents a test database instance
type TestDB struct {
	DB     *gorm.DB
	Name   string
	config *TestDBConfig
}

// SetupTestDB creates an isolated, migrated database. SQLite runs in memory; postgres gets a fresh database.
func SetupTestDB() (*TestDB, error) {
	config := GetTestDBConfig()
	dbName := "dormup_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	var (
		db  *gorm.DB
		err error
	)
	gormCfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: utils.UTCNow,
	}

	switch config.Driver {
	case "postgres":
		if err := createPostgresDatabase(config, dbName); err != nil {
			return nil, err
		}
		db, err = gorm.Open(postgres.Open(config.dsn(dbName)), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to test database %s: %w", dbName, err)
		}
	default:
		db, err = gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", dbName)), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite test database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// a shared in-memory database lives as long as one connection stays open
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("failed to migrate test database %s: %w", dbName, err)
	}

	return &TestDB{DB: db, Name: dbName, config: config}, nil
}

func (c *TestDBConfig) dsn(dbName string) string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s sslmode=%s TimeZone=UTC",
		c.Host, c.Port, c.User, c.Password, c.SSLMode)
	if dbName != "" {
		dsn += " dbname=" + dbName
	}
	return dsn
}

func createPostgresDatabase(config *TestDBConfig, dbName string) error {
	adminDB, err := sql.Open("postgres", config.dsn("postgres"))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer adminDB.Close()

	if _, err := adminDB.Exec("CREATE DATABASE " + dbName); err != nil {
		return fmt.Errorf("failed to create test database %s: %w", dbName, err)
	}
	return nil
}

// TeardownTestDB closes the connection and drops the postgres database if one was created
func (tdb *TestDB) TeardownTestDB() error {
	if tdb.DB == nil {
		return nil
	}

	if sqlDB, err := tdb.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if tdb.config.Driver != "postgres" {
		return nil
	}

	adminDB, err := sql.Open("postgres", tdb.config.dsn("postgres"))
	if err != nil {
		log.Printf("Warning: failed to connect to PostgreSQL for cleanup: %v", err)
		return err
	}
	defer adminDB.Close()

	if _, err := adminDB.Exec(
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()",
		tdb.Name); err != nil {
		log.Printf("Warning: failed to terminate connections to test database %s: %v", tdb.Name, err)
	}
	if _, err := adminDB.Exec("DROP DATABASE IF EXISTS " + tdb.Name); err != nil {
		log.Printf("Warning: failed to drop test database %s: %v", tdb.Name, err)
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
