// Package config reads the tracker configuration. The default configuration can be overridden first by:
//
// - a config file, JSON or YAML depending on its extension (see cmd/tracker/conf.yaml for a sample) and then by
//
// - OS ENV variables prefixed with PULSE_ (ie. PULSE_DBTYPE, PULSE_DBCONN, ...). All of them are plain strings except
// PULSE_CREDENTIALS, a comma separated list of tokens, and PULSE_FILTER, which must be valid JSON. For example:
// # export PULSE_FILTER='{"minAmount":"0.5","denylist":["9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"]}'
//
// Durations are strings such as "30s" in YAML files and nanoseconds in JSON files.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gopkg.in/yaml.v3"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/credential"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/enrich"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/filter"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/stream"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/tracker"
)

var logger = loggo.GetLogger("pulsetrack.config")

// Default configuration values.
var (
	NetDefault         = "solana"
	StreamURLDefault   = "wss://atlas-mainnet.helius-rpc.com"
	DBTypeDefault      = "memory"
	MbTypeDefault      = ""
	MetadataRPSDefault = 10.0
	PortDefault        = "3030"
	MetricsPortDefault = "9100"
	LoggingDefault     = "<root>=INFO"
)

// Supported message brokers; an empty type runs without broker.
var MbTypes = []string{"", "amqp", "kafka"}

// Errors returned.
var (
	ErrFormat = errors.New("config: unknown file format")
	ErrMbType = errors.New("config: unknown message broker type")
	ErrNoNet  = errors.New("config: network name is required")
)

// ServiceConfig contains the fields required by the tracker service: the network, its credentials and stream
// endpoint, the pipeline stages tuning, database, message broker, API ports with optional SSL and logging.
type ServiceConfig struct {
	Net         string            `json:"net" yaml:"net"`
	Credentials []string          `json:"credentials" yaml:"credentials"`
	Rotation    credential.Config `json:"rotation" yaml:"rotation"`

	StreamURL  string        `json:"streamUrl" yaml:"streamUrl"`
	TokenParam string        `json:"tokenParam" yaml:"tokenParam"`
	Stream     stream.Config `json:"stream" yaml:"stream"`

	Filter filter.Config `json:"filter" yaml:"filter"`

	MetadataURL   string        `json:"metadataUrl" yaml:"metadataUrl"`
	MetadataRPS   float64       `json:"metadataRps" yaml:"metadataRps"`
	MetadataBurst int           `json:"metadataBurst" yaml:"metadataBurst"`
	Cache         enrich.Config `json:"cache" yaml:"cache"`

	Tracker tracker.Config `json:"tracker" yaml:"tracker"`

	DbType string `json:"dbtype" yaml:"dbtype"`
	DbConn string `json:"dbconn" yaml:"dbconn"`
	MbType string `json:"mbtype" yaml:"mbtype"`
	MbConn string `json:"mbconn" yaml:"mbconn"`

	RestfulEndpoint string `json:"endpoint" yaml:"endpoint"`
	Port            string `json:"port" yaml:"port"`
	SSLPort         string `json:"sslport" yaml:"sslport"`
	SSLCert         string `json:"sslcert" yaml:"sslcert"`
	SSLKey          string `json:"sslkey" yaml:"sslkey"`
	MetricsPort     string `json:"metricsPort" yaml:"metricsPort"`

	Logging string `json:"logging" yaml:"logging"`
}

// ExtractConfiguration reads the given file, if any, applies the PULSE_ environment overrides and returns the
// ServiceConfig or an error otherwise.
func ExtractConfiguration(filename string) (ServiceConfig, error) {
	conf := ServiceConfig{
		Net:         NetDefault,
		StreamURL:   StreamURLDefault,
		MetadataRPS: MetadataRPSDefault,
		DbType:      DBTypeDefault,
		MbType:      MbTypeDefault,
		Port:        PortDefault,
		MetricsPort: MetricsPortDefault,
		Logging:     LoggingDefault,
	}

	// read from config file first
	if filename != "" {
		if err := readFile(filename, &conf); err != nil {
			return conf, err
		}
	}

	// then override config values with OS ENV variables
	if err := fromEnv(&conf); err != nil {
		return conf, err
	}

	conf.Tracker.Net = conf.Net

	return conf, conf.validate()
}

func readFile(filename string, conf *ServiceConfig) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		logger.Errorf("configuration file not found: %s", filename)

		return errors.Trace(err)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		err = json.Unmarshal(data, conf)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, conf)
	default:
		return errors.Annotatef(ErrFormat, "%q", filename)
	}

	return errors.Annotatef(err, "config: reading %s", filename)
}

func fromEnv(conf *ServiceConfig) error {
	str := map[string]*string{
		"PULSE_NET":         &conf.Net,
		"PULSE_STREAMURL":   &conf.StreamURL,
		"PULSE_TOKENPARAM":  &conf.TokenParam,
		"PULSE_METADATAURL": &conf.MetadataURL,
		"PULSE_DBTYPE":      &conf.DbType,
		"PULSE_DBCONN":      &conf.DbConn,
		"PULSE_MBTYPE":      &conf.MbType,
		"PULSE_MBCONN":      &conf.MbConn,
		"PULSE_ENDPOINT":    &conf.RestfulEndpoint,
		"PULSE_PORT":        &conf.Port,
		"PULSE_SSLPORT":     &conf.SSLPort,
		"PULSE_SSLCERT":     &conf.SSLCert,
		"PULSE_SSLKEY":      &conf.SSLKey,
		"PULSE_METRICSPORT": &conf.MetricsPort,
		"PULSE_LOGGING":     &conf.Logging,
	}

	for name, field := range str {
		if tmp := os.Getenv(name); tmp != "" {
			*field = tmp
		}
	}

	if tmp := os.Getenv("PULSE_CREDENTIALS"); tmp != "" {
		conf.Credentials = conf.Credentials[:0]

		for _, c := range strings.Split(tmp, ",") {
			if c = strings.TrimSpace(c); c != "" {
				conf.Credentials = append(conf.Credentials, c)
			}
		}
	}

	if tmp := os.Getenv("PULSE_METADATARPS"); tmp != "" {
		rps, err := strconv.ParseFloat(tmp, 64)
		if err != nil {
			return errors.Annotate(err, "config: PULSE_METADATARPS")
		}

		conf.MetadataRPS = rps
	}

	if tmp := os.Getenv("PULSE_FILTER"); tmp != "" {
		if err := json.Unmarshal([]byte(tmp), &conf.Filter); err != nil {
			logger.Errorf("error reading filter from OS ENV PULSE_FILTER")

			return errors.Annotate(err, "config: PULSE_FILTER")
		}
	}

	return nil
}

func (c *ServiceConfig) validate() error {
	if c.Net == "" {
		return ErrNoNet
	}

	if !slices.Contains(MbTypes, c.MbType) {
		return errors.Annotatef(ErrMbType, "%q", c.MbType)
	}

	return nil
}
