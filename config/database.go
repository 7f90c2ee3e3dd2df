package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

var (
	db *gorm.DB
)

func GetDB() *gorm.DB {
	return db
}

// SetDB replaces the global handle. Used by tools and tests that open their own connection.
func SetDB(d *gorm.DB) {
	db = d
}

// DatabaseDriver reports which dialect DB_DRIVER selects (mysql unless set to postgres).
func DatabaseDriver() string {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("DB_DRIVER")), DriverPostgres) {
		return DriverPostgres
	}
	return DriverMySQL
}

func dialector() gorm.Dialector {
	if DatabaseDriver() == DriverPostgres {
		return postgres.Open(os.Getenv("DATABASE_URL"))
	}

	dbHost := os.Getenv("DB_HOST")
	network := "tcp"
	address := fmt.Sprintf("%s:%s", dbHost, os.Getenv("DB_PORT"))
	// Cloud SQL connector socket, e.g. DB_HOST=/cloudsql/<CONNECTION_NAME>
	if strings.HasPrefix(dbHost, "/cloudsql/") {
		network = "unix"
		address = dbHost
	}
	dsn := fmt.Sprintf("%s:%s@%s(%s)/%s?parseTime=true&charset=utf8mb4",
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		network,
		address,
		os.Getenv("DB_NAME"),
	)
	return mysql.Open(dsn)
}

// ConnectDatabaseWithRetry connects and sets the global DB.
// Call this from main() AFTER the HTTP server is listening.
func ConnectDatabaseWithRetry() {
	var attempt int
	for {
		attempt++
		conn, err := gorm.Open(dialector(), initConfig())
		if err == nil {
			tunePool(conn)
			if pluginErr := conn.Use(otelgorm.NewPlugin()); pluginErr != nil {
				log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
			}
			db = conn
			log.Printf("connected to database (driver=%s attempt=%d)", DatabaseDriver(), attempt)
			return
		}

		sleep := backoffSleep(attempt)
		log.Printf("failed to connect database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		time.Sleep(sleep)
	}
}

// Env overrides (optional):
// - DB_MAX_OPEN_CONNS (default 50)
// - DB_MAX_IDLE_CONNS (default 25)
// - DB_CONN_MAX_LIFETIME_SECONDS (default 300)
// - DB_CONN_MAX_IDLE_TIME_SECONDS (default 60)
func tunePool(conn *gorm.DB) {
	sqlDB, err := conn.DB()
	if err != nil || sqlDB == nil {
		return
	}
	maxOpen := intFromEnv("DB_MAX_OPEN_CONNS", 50)
	maxIdle := intFromEnv("DB_MAX_IDLE_CONNS", 25)
	connMaxLife := secondsFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)
	connMaxIdle := secondsFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)

	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if connMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(connMaxLife)
	}
	if connMaxIdle > 0 {
		sqlDB.SetConnMaxIdleTime(connMaxIdle)
	}
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: &schema.NamingStrategy{SingularTable: false},
	}
}

func initLog() logger.Interface {
	level := logger.Error
	if envBool("GORM_DEBUG") {
		level = logger.Info
	}
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:                  false,
			LogLevel:                  level,
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		},
	)
}
