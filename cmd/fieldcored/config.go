// Config loading for fieldcored. Precedence: flags over environment over
// config file over defaults. The storage and blob factories read their
// settings from FIELDCORE_* environment variables, so resolved file values
// are exported back into the environment before anything opens.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	cfgKeyListen             = "listen"
	cfgKeyLogLevel           = "log_level"
	cfgKeyStorageDriver      = "storage_driver"
	cfgKeySQLitePath         = "sqlite_path"
	cfgKeyRecordsSQLitePath  = "records_sqlite_path"
	cfgKeyPostgresDSN        = "postgres_dsn"
	cfgKeyBlobDriver         = "blob_driver"
	cfgKeyBlobFSRoot         = "blob_fs_root"
	cfgKeyShutdownGraceSecs  = "shutdown_grace_seconds"
	defaultListen            = ":8080"
	defaultLogLevel          = "info"
	defaultShutdownGraceSecs = 10
)

// envForKey maps a config key to the environment variable the factories
// consume.
var envForKey = map[string]string{
	cfgKeyStorageDriver:     "FIELDCORE_STORAGE_DRIVER",
	cfgKeySQLitePath:        "FIELDCORE_SQLITE_PATH",
	cfgKeyRecordsSQLitePath: "FIELDCORE_RECORDS_SQLITE_PATH",
	cfgKeyPostgresDSN:       "FIELDCORE_POSTGRES_DSN",
	cfgKeyBlobDriver:        "FIELDCORE_BLOB_DRIVER",
	cfgKeyBlobFSRoot:        "FIELDCORE_BLOB_FS_ROOT",
}

// loadConfig builds the viper instance for the serve command.
func loadConfig() (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyListen, defaultListen)
	v.SetDefault(cfgKeyLogLevel, defaultLogLevel)
	v.SetDefault(cfgKeyShutdownGraceSecs, defaultShutdownGraceSecs)

	v.SetEnvPrefix("FIELDCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return v, nil
	}
	v.SetConfigName("fieldcore")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// A missing config file is not an error; defaults and env apply.
	}
	return v, nil
}

// exportToEnv pushes resolved config values into the environment variables
// the storage and blob factories read, without clobbering explicit ones.
func exportToEnv(v *viper.Viper) error {
	for key, env := range envForKey {
		if os.Getenv(env) != "" {
			continue
		}
		if val := v.GetString(key); val != "" {
			if err := os.Setenv(env, val); err != nil {
				return fmt.Errorf("set %s: %w", env, err)
			}
		}
	}
	return nil
}
