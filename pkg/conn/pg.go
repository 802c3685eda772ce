package conn

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Option configures the postgres pool behind the SQL cache store.
type Option struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode"`
	// ConnString is used as is when set.
	ConnString string `json:"conn_string" yaml:"conn_string"`

	MaxOpenConns       int  `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns       int  `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSec int  `json:"conn_max_lifetime_sec" yaml:"conn_max_lifetime_sec"`
	LogQueries         bool `json:"log_queries" yaml:"log_queries"`
}

// IsZero reports whether no connection was configured.
func (opt Option) IsZero() bool {
	return opt.ConnString == "" && opt.Host == "" && opt.Database == ""
}

// Client owns one gorm pool.
type Client struct {
	db *gorm.DB
}

func New(opt Option) (*Client, error) {
	level := logger.Silent
	if opt.LogQueries {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(opt.dsn()), &gorm.Config{
		Logger:                 logger.Default.LogMode(level),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if opt.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opt.MaxOpenConns)
	}
	if opt.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opt.MaxIdleConns)
	}
	if opt.ConnMaxLifetimeSec > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(opt.ConnMaxLifetimeSec) * time.Second)
	}
	return &Client{db: db}, nil
}

func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// dsn builds a keyword/value connection string. Empty fields are left to
// libpq defaults except sslmode, which defaults to disable.
func (opt Option) dsn() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}
	kv := map[string]string{
		"host":     opt.Host,
		"user":     opt.User,
		"password": opt.Password,
		"dbname":   opt.Database,
		"sslmode":  opt.SSLMode,
	}
	if opt.Port > 0 {
		kv["port"] = strconv.Itoa(opt.Port)
	}
	if kv["sslmode"] == "" {
		kv["sslmode"] = "disable"
	}

	keys := make([]string, 0, len(kv))
	for k, v := range kv {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+quote(kv[k]))
	}
	return strings.Join(parts, " ")
}

func quote(v string) string {
	if !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
