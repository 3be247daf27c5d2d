package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	ConnectTimeout  time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// GetConfig returns database configuration with defaults. The standard libpq
// PG* variables override the defaults.
func GetConfig() *DBConfig {
	viper.SetDefault("database.host", "127.0.0.1")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "app_user")
	viper.SetDefault("database.password", "app_pass")
	viper.SetDefault("database.name", "app_db")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.connect_timeout", 5*time.Second)
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)

	viper.BindEnv("database.host", "PGHOST")
	viper.BindEnv("database.port", "PGPORT")
	viper.BindEnv("database.user", "PGUSER")
	viper.BindEnv("database.password", "PGPASSWORD")
	viper.BindEnv("database.name", "PGDATABASE")
	viper.BindEnv("database.ssl_mode", "PGSSLMODE")

	return &DBConfig{
		Host:            viper.GetString("database.host"),
		Port:            viper.GetString("database.port"),
		User:            viper.GetString("database.user"),
		Password:        viper.GetString("database.password"),
		Name:            viper.GetString("database.name"),
		SSLMode:         viper.GetString("database.ssl_mode"),
		ConnectTimeout:  viper.GetDuration("database.connect_timeout"),
		MaxOpenConns:    viper.GetInt("database.max_open_conns"),
		MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
	}
}

// DSN renders the config as a postgres:// URL understood by lib/pq.
func (c *DBConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.Name,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprint(int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// InitDB opens and pings the database described by config.
func InitDB(ctx context.Context, config *DBConfig) (*sql.DB, error) {
	if config == nil {
		config = GetConfig()
	}

	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	log.Info().Str("host", config.Host).Str("database", config.Name).Msg("Database connection established")
	return db, nil
}
