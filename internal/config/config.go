package config

import (
	"path/filepath"

	"github.com/recoveryworks/update-engine/pkg/logger"
	"github.com/recoveryworks/update-engine/pkg/models"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Update  UpdateConfig  `mapstructure:"update"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PathsConfig holds every filesystem location the engine touches. All of them
// are overridable so tests can point the whole run into a temp tree.
type PathsConfig struct {
	CacheDir    string `mapstructure:"cache_dir"`
	CommandFile string `mapstructure:"command_file"`

	SystemRoot string `mapstructure:"system_root"`
	DataRoot   string `mapstructure:"data_root"`

	TrustDir          string `mapstructure:"trust_dir"`
	ArchiveMaster     string `mapstructure:"archive_master"`
	ArchiveMasterSig  string `mapstructure:"archive_master_sig"`
	FilesystemTable   string `mapstructure:"filesystem_table"`
	PersistentList    string `mapstructure:"persistent_list"`
	BlacklistArchive  string `mapstructure:"blacklist_archive"`
	BlacklistSig      string `mapstructure:"blacklist_sig"`
	Cmdline           string `mapstructure:"cmdline"`
	UsbModeFile       string `mapstructure:"usb_mode_file"`
	AdbKeysFile       string `mapstructure:"adb_keys_file"`
	FactoryWipeMarker string `mapstructure:"factory_wipe_marker"`
	UpdateStamp       string `mapstructure:"update_stamp"`
	PasswordFile      string `mapstructure:"password_file"`
	SwapFile          string `mapstructure:"swap_file"`
}

// UpdateConfig holds behavioral switches for the apply run
type UpdateConfig struct {
	// SkipVerification disables the signature oracle entirely. Only for
	// trusted-environment builds; never ship enabled.
	SkipVerification bool `mapstructure:"skip_verification"`
	SwapEnabled      bool `mapstructure:"swap_enabled"`
	SwapSizeMB       int  `mapstructure:"swap_size_mb"`
}

// CommandFilePath returns the full path of the command file for this run.
func (c *Config) CommandFilePath() string {
	if filepath.IsAbs(c.Paths.CommandFile) {
		return c.Paths.CommandFile
	}
	return filepath.Join(c.Paths.CacheDir, c.Paths.CommandFile)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("paths.cache_dir", models.CachePath)
	v.SetDefault("paths.command_file", models.CommandFileName)
	v.SetDefault("paths.system_root", models.SystemMountPoint)
	v.SetDefault("paths.data_root", models.DataRoot)
	v.SetDefault("paths.trust_dir", models.TrustPath)
	v.SetDefault("paths.archive_master", models.ArchiveMasterPath)
	v.SetDefault("paths.archive_master_sig", models.ArchiveMasterPath+".asc")
	v.SetDefault("paths.filesystem_table", models.FilesystemTable)
	v.SetDefault("paths.persistent_list", models.PersistentListPath)
	v.SetDefault("paths.blacklist_archive", models.BlacklistStaging)
	v.SetDefault("paths.blacklist_sig", models.BlacklistStaging+".asc")
	v.SetDefault("paths.cmdline", models.CmdlinePath)
	v.SetDefault("paths.usb_mode_file", models.UsbModePath)
	v.SetDefault("paths.adb_keys_file", models.AdbKeysPath)
	v.SetDefault("paths.factory_wipe_marker", models.FactoryWipeMarker)
	v.SetDefault("paths.update_stamp", models.UpdateStampPath)
	v.SetDefault("paths.password_file", models.PasswordPath)
	v.SetDefault("paths.swap_file", models.SwapFilePath)

	v.SetDefault("update.skip_verification", false)
	v.SetDefault("update.swap_enabled", true)
	v.SetDefault("update.swap_size_mb", 512)
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/update-engine")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("RUPDATE")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := initLogger(&config.Logging); err != nil {
		return nil, err
	}

	return &config, nil
}

// initLogger initializes the logger with the provided configuration
func initLogger(cfg *LoggingConfig) error {
	return logger.Init(logger.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Module: "main",
	})
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		// Defaults always unmarshal; reaching here is a programming error.
		panic(err)
	}
	return &config
}
