// Copyright 2025 Storymill Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"fmt"
	"time"
)

// Drivers supported by the manager. SQLite is the default for the
// local-first deployment; MySQL serves shared installations.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// SQLiteConfig configures the embedded database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// MySQLConfig configures a MySQL connection.
type MySQLConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
}

// Database is the database section of the app configuration.
type Database struct {
	Driver       string       `mapstructure:"driver"`
	SQLite       SQLiteConfig `mapstructure:"sqlite"`
	MySQL        MySQLConfig  `mapstructure:"mysql"`
	MaxOpenConns int          `mapstructure:"maxOpenConns"`
	MaxIdleConns int          `mapstructure:"maxIdleConns"`
	MaxLifetime  int          `mapstructure:"maxLifetime"` // seconds
	MaxIdleTime  int          `mapstructure:"maxIdleTime"` // seconds
	OutPut       bool         `mapstructure:"output"`      // emit SQL to the logger
}

// SetDefaults applies defaults for unset fields.
func (d *Database) SetDefaults() {
	if d.Driver == "" {
		d.Driver = DriverSQLite
	}
	if d.SQLite.Path == "" {
		d.SQLite.Path = "./data/storymill.db"
	}
	if d.MaxOpenConns <= 0 {
		d.MaxOpenConns = 10
	}
	if d.MaxIdleConns <= 0 {
		d.MaxIdleConns = 5
	}
}

// Validate checks driver-specific required fields.
func (d *Database) Validate() error {
	switch d.Driver {
	case DriverSQLite:
		if d.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DriverMySQL:
		if d.MySQL.Host == "" || d.MySQL.DBName == "" {
			return fmt.Errorf("mysql host and dbName are required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", d.Driver)
	}
	return nil
}

// GetConnMaxLifetime returns the connection max lifetime.
func GetConnMaxLifetime(seconds int) time.Duration {
	if seconds <= 0 {
		return time.Hour
	}
	return time.Duration(seconds) * time.Second
}

// GetConnMaxIdleTime returns the connection max idle time.
func GetConnMaxIdleTime(seconds int) time.Duration {
	if seconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(seconds) * time.Second
}

func buildMySQLDSN(user, password, host string, port int, dbName string) string {
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbName)
}
