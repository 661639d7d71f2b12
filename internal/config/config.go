// Package config loads the gepd YAML configuration. Every role reads its own
// section; values missing from the file keep their defaults.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/gepd/gepd/common"
	"github.com/gepd/gepd/internal/hub"
	"github.com/gepd/gepd/internal/manager"
	"github.com/gepd/gepd/internal/producer"
	"github.com/gepd/gepd/pkg/gep"
	"github.com/gepd/gepd/pkg/ndn"
	"github.com/gepd/gepd/pkg/retry"
)

type Config struct {
	Hub      HubConfig      `yaml:"hub"`
	Repo     RepoConfig     `yaml:"repo"`
	Manager  ManagerConfig  `yaml:"manager"`
	Producer ProducerConfig `yaml:"producer"`
	Admin    AdminConfig    `yaml:"admin"`
	// LogFile, when set, receives a copy of the role log.
	LogFile string `yaml:"log_file"`
}

type HubConfig struct {
	Socket   string `yaml:"socket"`
	Pipe     string `yaml:"pipe"`
	Port     int    `yaml:"port"`
	ForceTCP bool   `yaml:"force_tcp"`
	MaxConns int    `yaml:"max_conns"`
}

type RepoConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   string `yaml:"db"`
	// Serve lists prefixes the repo answers interests for on the hub.
	Serve          []string      `yaml:"serve"`
	PushRetries    int           `yaml:"push_retries"`
	PushRetryDelay time.Duration `yaml:"push_retry_delay"`
	// AckTimeout bounds the wait for each push acknowledgment; zero keeps
	// the store client default.
	AckTimeout time.Duration `yaml:"ack_timeout"`
}

type ManagerConfig struct {
	Prefix            string        `yaml:"prefix"`
	DataType          string        `yaml:"data_type"`
	AccessPrefix      string        `yaml:"access_prefix"`
	Schedule          string        `yaml:"schedule"`
	DB                string        `yaml:"db"`
	KeyDir            string        `yaml:"key_dir"`
	KeySize           int           `yaml:"key_size"`
	KeyFreshnessHours int           `yaml:"key_freshness_hours"`
	Epoch             string        `yaml:"epoch"`
	Window            time.Duration `yaml:"window"`
	Step              time.Duration `yaml:"step"`
	ScheduleStart     string        `yaml:"schedule_start"`
	ScheduleEnd       string        `yaml:"schedule_end"`
	StartHour         int           `yaml:"start_hour"`
	EndHour           int           `yaml:"end_hour"`
	ResponseFreshness time.Duration `yaml:"response_freshness"`
	CertLifetime      time.Duration `yaml:"cert_lifetime"`
	CertRetries       int           `yaml:"cert_retries"`
	Policy            string        `yaml:"policy"`
	RateLimit         float64       `yaml:"rate_limit"`
	RateBurst         int           `yaml:"rate_burst"`
	// Regenerate is a cron expression; empty disables regeneration.
	Regenerate string `yaml:"regenerate"`
}

type ProducerConfig struct {
	Prefix         string        `yaml:"prefix"`
	DataType       string        `yaml:"data_type"`
	DB             string        `yaml:"db"`
	KeyDir         string        `yaml:"key_dir"`
	Slot           string        `yaml:"slot"`
	Payload        string        `yaml:"payload"`
	RepeatAttempts int           `yaml:"repeat_attempts"`
	KeyLifetime    time.Duration `yaml:"key_lifetime"`
}

type AdminConfig struct {
	// Port enables the endpoint on localhost when non-zero.
	Port   int    `yaml:"port"`
	Secret string `yaml:"secret"`
}

func Default() *Config {
	return &Config{
		Hub: HubConfig{
			Socket:   common.SocketPath(),
			Pipe:     common.PipePath(),
			Port:     common.DEF_HUB_PORT,
			MaxConns: common.DEF_MAX_HUB_CONNS,
		},
		Repo: RepoConfig{
			Host:           common.DEF_REPO_HOST,
			Port:           common.DEF_REPO_PORT,
			DB:             "/tmp/repo.db",
			PushRetries:    retry.DEF_MAX_RETRIES,
			PushRetryDelay: retry.DEF_BASE_DELAY,
		},
		Manager: ManagerConfig{
			Prefix:            common.DEF_GROUP_PREFIX,
			DataType:          common.DEF_DATA_TYPE,
			AccessPrefix:      common.DEF_ACCESS_PREFIX,
			Schedule:          common.DEF_SCHEDULE_NAME,
			DB:                common.DEF_MANAGER_DB,
			KeySize:           common.DEF_KEY_SIZE,
			KeyFreshnessHours: common.DEF_GROUP_KEY_FRESHNESS,
			Epoch:             common.DEF_KEYGEN_EPOCH,
			Window:            common.DEF_KEYGEN_WINDOW,
			Step:              common.DEF_KEYGEN_STEP,
			ScheduleStart:     common.DEF_SCHEDULE_START,
			ScheduleEnd:       common.DEF_SCHEDULE_END,
			StartHour:         common.DEF_SCHEDULE_START_HOUR,
			EndHour:           common.DEF_SCHEDULE_END_HOUR,
			ResponseFreshness: common.DEF_RESPONSE_FRESHNESS,
			CertLifetime:      common.DEF_CERT_FETCH_LIFETIME,
			Policy:            string(manager.FailOpen),
			RateBurst:         5,
		},
		Producer: ProducerConfig{
			Prefix:         common.DEF_PRODUCER_PREFIX,
			DataType:       common.DEF_DATA_TYPE,
			DB:             common.DEF_PRODUCER_DB,
			Slot:           common.DEF_PRODUCER_SLOT,
			Payload:        hex.EncodeToString(common.DEF_SAMPLE_CONTENT),
			RepeatAttempts: common.DEF_REPEAT_ATTEMPTS,
			KeyLifetime:    ndn.DefaultInterestLifetime,
		},
	}
}

// Load reads path from fsys over the defaults. An empty path returns the
// defaults.
func Load(fsys afero.Fs, path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: %s does not exist", path)
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every section, so a bad file fails before any role starts.
func (c *Config) Validate() error {
	if c.Hub.Port <= 0 || c.Hub.Port > 65535 {
		return fmt.Errorf("config: hub port %d out of range", c.Hub.Port)
	}
	if c.Repo.Port <= 0 || c.Repo.Port > 65535 {
		return fmt.Errorf("config: repo port %d out of range", c.Repo.Port)
	}
	if c.Repo.PushRetries < 0 {
		return fmt.Errorf("config: negative push retries")
	}
	if c.Repo.AckTimeout < 0 {
		return fmt.Errorf("config: negative ack timeout")
	}
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("config: admin port %d out of range", c.Admin.Port)
	}
	for _, p := range c.Repo.Serve {
		if _, err := ndn.ParseName(p); err != nil {
			return fmt.Errorf("config: repo serve prefix: %w", err)
		}
	}
	mc, err := c.ManagerRuntime()
	if err != nil {
		return err
	}
	if err := mc.Validate(); err != nil {
		return err
	}
	if _, err := c.Schedule(); err != nil {
		return err
	}
	if c.Manager.KeySize < 1024 {
		return fmt.Errorf("config: key size %d below 1024", c.Manager.KeySize)
	}
	pc, err := c.ProducerRuntime()
	if err != nil {
		return err
	}
	if err := pc.Validate(); err != nil {
		return err
	}
	if _, err := c.ProducerSlot(); err != nil {
		return err
	}
	_, err = c.ProducerPayload()
	return err
}

func (c *Config) HubRuntime() hub.Config {
	return hub.Config{
		SocketPath: c.Hub.Socket,
		PipePath:   c.Hub.Pipe,
		Port:       c.Hub.Port,
		ForceTCP:   c.Hub.ForceTCP,
		MaxConns:   c.Hub.MaxConns,
	}
}

func (c *Config) RepoAddr() string {
	return fmt.Sprintf("%s:%d", c.Repo.Host, c.Repo.Port)
}

func (c *Config) HubAddr() string {
	return fmt.Sprintf("%s:%d", common.TCPHost, c.Hub.Port)
}

// StoreRetry is the retry policy of manager pushes into the repo.
func (c *Config) StoreRetry() retry.Config {
	r := retry.DefaultConfig()
	r.MaxRetries = c.Repo.PushRetries
	if c.Repo.PushRetryDelay > 0 {
		r.BaseDelay = c.Repo.PushRetryDelay
	}
	return r
}

func (c *Config) ServePrefixes() []ndn.Name {
	out := make([]ndn.Name, 0, len(c.Repo.Serve))
	for _, p := range c.Repo.Serve {
		if n, err := ndn.ParseName(p); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func parseTime(field, v string) (time.Time, error) {
	t, err := time.Parse(ndn.TimestampFormat, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: %s %q: want %s", field, v, ndn.TimestampFormat)
	}
	return t, nil
}

func parseName(field, v string) (ndn.Name, error) {
	n, err := ndn.ParseName(v)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", field, err)
	}
	return n, nil
}

// dataTypeName accepts "fitness" as well as "/fitness".
func dataTypeName(field, v string) (ndn.Name, error) {
	if v != "" && v[0] != '/' {
		v = "/" + v
	}
	return parseName(field, v)
}

func (c *Config) GroupNames() (prefix, dataType ndn.Name, err error) {
	if prefix, err = parseName("manager prefix", c.Manager.Prefix); err != nil {
		return nil, nil, err
	}
	dataType, err = dataTypeName("manager data type", c.Manager.DataType)
	return prefix, dataType, err
}

func (c *Config) ManagerRuntime() (manager.Config, error) {
	m := c.Manager
	access, err := parseName("access prefix", m.AccessPrefix)
	if err != nil {
		return manager.Config{}, err
	}
	epoch, err := parseTime("epoch", m.Epoch)
	if err != nil {
		return manager.Config{}, err
	}
	policy, err := manager.ParsePolicy(m.Policy)
	if err != nil {
		return manager.Config{}, err
	}
	out := manager.DefaultConfig()
	out.AccessPrefix = access
	out.Schedule = m.Schedule
	out.CertLifetime = m.CertLifetime
	out.CertRetries = m.CertRetries
	out.ResponseFreshness = m.ResponseFreshness
	out.Epoch = epoch
	out.Window = m.Window
	out.Step = m.Step
	out.Policy = policy
	out.RateLimit = m.RateLimit
	out.RateBurst = m.RateBurst
	return out, nil
}

// Schedule builds the membership schedule: one daily repeating white
// interval between the configured dates and hours.
func (c *Config) Schedule() (*gep.Schedule, error) {
	start, err := parseTime("schedule start", c.Manager.ScheduleStart)
	if err != nil {
		return nil, err
	}
	end, err := parseTime("schedule end", c.Manager.ScheduleEnd)
	if err != nil {
		return nil, err
	}
	ri, err := gep.NewRepetitiveInterval(start, end, c.Manager.StartHour, c.Manager.EndHour, 1, gep.RepeatDay)
	if err != nil {
		return nil, fmt.Errorf("config: schedule: %w", err)
	}
	return gep.NewSchedule().AddWhiteInterval(ri), nil
}

func (c *Config) ProducerRuntime() (producer.Config, error) {
	prefix, err := parseName("producer prefix", c.Producer.Prefix)
	if err != nil {
		return producer.Config{}, err
	}
	dataType, err := dataTypeName("producer data type", c.Producer.DataType)
	if err != nil {
		return producer.Config{}, err
	}
	return producer.Config{
		Prefix:         prefix,
		DataType:       dataType,
		RepeatAttempts: c.Producer.RepeatAttempts,
		KeyLifetime:    c.Producer.KeyLifetime,
	}, nil
}

func (c *Config) ProducerSlot() (time.Time, error) {
	return parseTime("producer slot", c.Producer.Slot)
}

// ProducerPayload decodes the hex payload.
func (c *Config) ProducerPayload() ([]byte, error) {
	b, err := hex.DecodeString(c.Producer.Payload)
	if err != nil {
		return nil, fmt.Errorf("config: producer payload: %w", err)
	}
	return b, nil
}
