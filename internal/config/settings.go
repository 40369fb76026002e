// Package config loads the server settings file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSettingsPath is where the server looks for settings when no path is
// given on the command line.
const DefaultSettingsPath = "settings.json"

// ErrSettingsMissing is returned when the settings file does not exist.
var ErrSettingsMissing = errors.New("settings file not found")

// ErrEstimateTooLarge is returned by Admit when a run exceeds the ceilings.
var ErrEstimateTooLarge = errors.New("estimate exceeds configured limits")

const maxFileSize = 1 * 1024 * 1024 // 1MB

// MQTTSettings configures the optional progress event publisher.
type MQTTSettings struct {
	Broker   *string `json:"broker,omitempty" yaml:"broker,omitempty"`
	ClientID *string `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	Topic    *string `json:"topic,omitempty" yaml:"topic,omitempty"`
}

// Settings is the server configuration. Fields left out of the file fall
// back to the defaults returned by the Get methods.
type Settings struct {
	Port         *int    `json:"port,omitempty" yaml:"port,omitempty"`
	Listen       *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	Authenticate *bool   `json:"authenticate,omitempty" yaml:"authenticate,omitempty"`

	// SearchRoots are the directories point cloud paths are resolved against.
	SearchRoots     []string `json:"searchRoots,omitempty" yaml:"searchRoots,omitempty"`
	OutputDirectory *string  `json:"outputDirectory,omitempty" yaml:"outputDirectory,omitempty"`

	// Admission ceilings for filter requests. Zero disables a ceiling.
	MaxNodes  *int64 `json:"maxNodes,omitempty" yaml:"maxNodes,omitempty"`
	MaxPoints *int64 `json:"maxPoints,omitempty" yaml:"maxPoints,omitempty"`

	NodeConcurrency   *int          `json:"nodeConcurrency,omitempty" yaml:"nodeConcurrency,omitempty"`
	JobTTL            *string       `json:"jobTTL,omitempty" yaml:"jobTTL,omitempty"` // duration string like "1h"
	DatabasePath      *string       `json:"databasePath,omitempty" yaml:"databasePath,omitempty"`
	ExtractRegionExe  *string       `json:"extractRegionExe,omitempty" yaml:"extractRegionExe,omitempty"`
	ExtractProfileExe *string       `json:"extractProfileExe,omitempty" yaml:"extractProfileExe,omitempty"`
	MQTT              *MQTTSettings `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
}

// Load reads settings from a .json, .yaml or .yml file.
func Load(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("settings file must have .json, .yaml or .yml extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSettingsMissing, cleanPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat settings file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("settings file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	s := &Settings{}
	if ext == ".json" {
		err = json.Unmarshal(data, s)
	} else {
		err = yaml.Unmarshal(data, s)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", cleanPath, err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// Validate checks that the configured values are usable.
func (s *Settings) Validate() error {
	if s.Port != nil && (*s.Port < 0 || *s.Port > 65535) {
		return fmt.Errorf("port must be between 0 and 65535, got %d", *s.Port)
	}
	if s.MaxNodes != nil && *s.MaxNodes < 0 {
		return fmt.Errorf("maxNodes must be non-negative, got %d", *s.MaxNodes)
	}
	if s.MaxPoints != nil && *s.MaxPoints < 0 {
		return fmt.Errorf("maxPoints must be non-negative, got %d", *s.MaxPoints)
	}
	if s.NodeConcurrency != nil && *s.NodeConcurrency < 1 {
		return fmt.Errorf("nodeConcurrency must be at least 1, got %d", *s.NodeConcurrency)
	}
	if s.JobTTL != nil && *s.JobTTL != "" {
		d, err := time.ParseDuration(*s.JobTTL)
		if err != nil {
			return fmt.Errorf("invalid jobTTL '%s': %w", *s.JobTTL, err)
		}
		if d <= 0 {
			return fmt.Errorf("jobTTL must be positive, got %s", *s.JobTTL)
		}
	}
	for _, root := range s.SearchRoots {
		if root == "" {
			return errors.New("searchRoots must not contain empty entries")
		}
	}
	if s.MQTT != nil && s.MQTT.Broker != nil && *s.MQTT.Broker == "" {
		return errors.New("mqtt.broker must not be empty when set")
	}
	return nil
}

// Admit rejects runs whose estimate exceeds MaxNodes or MaxPoints.
func (s *Settings) Admit(nodes, points int64) error {
	if max := s.GetMaxNodes(); max > 0 && nodes > max {
		return fmt.Errorf("%w: %d nodes (max %d)", ErrEstimateTooLarge, nodes, max)
	}
	if max := s.GetMaxPoints(); max > 0 && points > max {
		return fmt.Errorf("%w: %d points (max %d)", ErrEstimateTooLarge, points, max)
	}
	return nil
}

// GetPort returns the port value or the default.
func (s *Settings) GetPort() int {
	if s.Port == nil {
		return 3000
	}
	return *s.Port
}

// GetListen returns the listen host or the default (all interfaces).
func (s *Settings) GetListen() string {
	if s.Listen == nil {
		return ""
	}
	return *s.Listen
}

// Addr returns the host:port the server binds to.
func (s *Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.GetListen(), s.GetPort())
}

// GetAuthenticate returns the authenticate value or the default.
func (s *Settings) GetAuthenticate() bool {
	if s.Authenticate == nil {
		return false
	}
	return *s.Authenticate
}

// GetSearchRoots returns the search roots, defaulting to the working directory.
func (s *Settings) GetSearchRoots() []string {
	if len(s.SearchRoots) == 0 {
		return []string{"."}
	}
	return s.SearchRoots
}

// GetOutputDirectory returns the output directory or the default.
func (s *Settings) GetOutputDirectory() string {
	if s.OutputDirectory == nil || *s.OutputDirectory == "" {
		return "output"
	}
	return *s.OutputDirectory
}

// GetMaxNodes returns the node ceiling, 0 when unlimited.
func (s *Settings) GetMaxNodes() int64 {
	if s.MaxNodes == nil {
		return 0
	}
	return *s.MaxNodes
}

// GetMaxPoints returns the point ceiling, 0 when unlimited.
func (s *Settings) GetMaxPoints() int64 {
	if s.MaxPoints == nil {
		return 0
	}
	return *s.MaxPoints
}

// GetNodeConcurrency returns the per-cloud node concurrency or the default.
func (s *Settings) GetNodeConcurrency() int {
	if s.NodeConcurrency == nil {
		return 10
	}
	return *s.NodeConcurrency
}

// GetJobTTL returns how long finished jobs are kept.
func (s *Settings) GetJobTTL() time.Duration {
	if s.JobTTL == nil || *s.JobTTL == "" {
		return time.Hour // default
	}
	d, err := time.ParseDuration(*s.JobTTL)
	if err != nil {
		return time.Hour // default on parse error
	}
	return d
}

// GetDatabasePath returns the sqlite job database path or the default.
func (s *Settings) GetDatabasePath() string {
	if s.DatabasePath == nil || *s.DatabasePath == "" {
		return "potree_jobs.db"
	}
	return *s.DatabasePath
}

// GetExtractRegionExe returns the region extraction executable, empty when
// extraction is disabled.
func (s *Settings) GetExtractRegionExe() string {
	if s.ExtractRegionExe == nil {
		return ""
	}
	return *s.ExtractRegionExe
}

// GetExtractProfileExe returns the elevation profile executable, empty when
// profile extraction is disabled.
func (s *Settings) GetExtractProfileExe() string {
	if s.ExtractProfileExe == nil {
		return ""
	}
	return *s.ExtractProfileExe
}

// GetMQTTBroker returns the broker URL, empty when events are disabled.
func (s *Settings) GetMQTTBroker() string {
	if s.MQTT == nil || s.MQTT.Broker == nil {
		return ""
	}
	return *s.MQTT.Broker
}

// GetMQTTClientID returns the MQTT client id or the default.
func (s *Settings) GetMQTTClientID() string {
	if s.MQTT == nil || s.MQTT.ClientID == nil || *s.MQTT.ClientID == "" {
		return "potree-clip"
	}
	return *s.MQTT.ClientID
}

// GetMQTTTopic returns the topic prefix for job events or the default.
func (s *Settings) GetMQTTTopic() string {
	if s.MQTT == nil || s.MQTT.Topic == nil || *s.MQTT.Topic == "" {
		return "potree/jobs"
	}
	return *s.MQTT.Topic
}
