// Package config reads and validates the JSON configuration of the modem stack.
package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"

	"github.com/envirodiy/loggermodem/components/board"
	"github.com/envirodiy/loggermodem/components/modem"
	"github.com/envirodiy/loggermodem/components/rtc"
	"github.com/envirodiy/loggermodem/logging"
	"github.com/envirodiy/loggermodem/services/timesync"
	"github.com/envirodiy/loggermodem/utils"
)

// Log file rotation defaults.
const (
	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 3
)

// LogConfig configures logging.
type LogConfig struct {
	Level      string `json:"level,omitempty"`
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *LogConfig) Validate(path string) error {
	if _, err := logging.LevelFromString(conf.Level); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if conf.MaxSizeMB < 0 || conf.MaxBackups < 0 {
		return utils.NewConfigValidationError(path, errors.New("rotation limits must not be negative"))
	}
	return nil
}

// Rotation returns the file size limit and backup count, applying defaults.
func (conf *LogConfig) Rotation() (maxSizeMB, maxBackups int) {
	maxSizeMB, maxBackups = conf.MaxSizeMB, conf.MaxBackups
	if maxSizeMB == 0 {
		maxSizeMB = DefaultLogMaxSizeMB
	}
	if maxBackups == 0 {
		maxBackups = DefaultLogMaxBackups
	}
	return maxSizeMB, maxBackups
}

// Config is the whole configuration file.
type Config struct {
	Board    board.Config    `json:"board"`
	Modem    modem.Config    `json:"modem"`
	RTC      rtc.Config      `json:"rtc"`
	TimeSync timesync.Config `json:"time_sync"`
	Log      LogConfig       `json:"log"`

	ConfigFilePath string `json:"-"`
}

// Validate checks every section, reporting the first failure with its path.
func (conf *Config) Validate() error {
	if err := conf.Board.Validate("board"); err != nil {
		return err
	}
	if err := conf.Modem.Validate("modem"); err != nil {
		return err
	}
	if err := conf.RTC.Validate("rtc"); err != nil {
		return err
	}
	if err := conf.TimeSync.Validate("time_sync"); err != nil {
		return err
	}
	return conf.Log.Validate("log")
}

// Read reads a config from the given file. ${VAR} references are expanded from the environment
// first so credentials can stay out of the file.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %q", filePath)
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	conf := Config{ConfigFilePath: originalPath}
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&conf); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json")
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}
