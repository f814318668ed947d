package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/robocap/robocap/pkg/log"
	"github.com/robocap/robocap/pkg/types"
)

// Source records which layer provided a field value.
type Source string

const (
	SourceEnv     Source = "env"
	SourceFile    Source = "file"
	SourceDefault Source = "default"
)

// Hardware-identifying keys. The detection tool regenerates these;
// everything else in the device file must survive regeneration.
var hardwareKeys = map[string]bool{
	"CAMERA_TOP_PATH":   true,
	"CAMERA_WRIST_PATH": true,
	"ARM_LEADER_PORT":   true,
	"ARM_FOLLOWER_PORT": true,
}

// Config is the resolved session configuration. Precedence per field:
// environment > device config file > hard-coded default.
type Config struct {
	RepoID      string
	SingleTask  string
	OffloadMode types.OffloadMode
	UseNPU      bool
	ShowPreview bool
	FPS         int

	MemoryLimitGB float64

	CameraTopPath   string
	CameraWristPath string
	ArmLeaderPort   string
	ArmFollowerPort string

	EdgeHost     string
	EdgeUser     string
	EdgePassword string
	EdgePort     int
	EdgePath     string

	APIBaseURL  string
	APIUsername string
	APIPassword string

	DatasetRoot string
	ModelDir    string

	// Sources maps field key to the layer that provided it.
	Sources map[string]Source
}

type field struct {
	key string
	def string
	set func(c *Config, raw string) error
}

func stringField(key, def string, dst func(c *Config) *string) field {
	return field{key: key, def: def, set: func(c *Config, raw string) error {
		*dst(c) = raw
		return nil
	}}
}

func intField(key string, def int, dst func(c *Config) *int) field {
	return field{key: key, def: strconv.Itoa(def), set: func(c *Config, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst(c) = v
		return nil
	}}
}

func floatField(key string, def float64, dst func(c *Config) *float64) field {
	return field{key: key, def: strconv.FormatFloat(def, 'f', -1, 64), set: func(c *Config, raw string) error {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst(c) = v
		return nil
	}}
}

func boolField(key string, def bool, dst func(c *Config) *bool) field {
	return field{key: key, def: strconv.FormatBool(def), set: func(c *Config, raw string) error {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "1", "true", "yes", "on":
			*dst(c) = true
		case "0", "false", "no", "off", "":
			*dst(c) = false
		default:
			return fmt.Errorf("%s: invalid boolean %q", key, raw)
		}
		return nil
	}}
}

func fields() []field {
	return []field{
		stringField("REPO_ID", "robocap_default", func(c *Config) *string { return &c.RepoID }),
		stringField("SINGLE_TASK", "default_task", func(c *Config) *string { return &c.SingleTask }),
		{key: "CLOUD", def: "0", set: func(c *Config, raw string) error {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 0 || v > 4 {
				return fmt.Errorf("CLOUD: offload mode must be 0-4, got %q", raw)
			}
			c.OffloadMode = types.OffloadMode(v)
			return nil
		}},
		boolField("NPU", false, func(c *Config) *bool { return &c.UseNPU }),
		boolField("SHOW", false, func(c *Config) *bool { return &c.ShowPreview }),
		intField("FPS", 30, func(c *Config) *int { return &c.FPS }),
		floatField("MEMORY_LIMIT_GB", 19.0, func(c *Config) *float64 { return &c.MemoryLimitGB }),
		stringField("CAMERA_TOP_PATH", "/dev/video0", func(c *Config) *string { return &c.CameraTopPath }),
		stringField("CAMERA_WRIST_PATH", "/dev/video2", func(c *Config) *string { return &c.CameraWristPath }),
		stringField("ARM_LEADER_PORT", "/dev/ttyUSB0", func(c *Config) *string { return &c.ArmLeaderPort }),
		stringField("ARM_FOLLOWER_PORT", "can0", func(c *Config) *string { return &c.ArmFollowerPort }),
		stringField("EDGE_SERVER_HOST", "127.0.0.1", func(c *Config) *string { return &c.EdgeHost }),
		stringField("EDGE_SERVER_USER", "robocap", func(c *Config) *string { return &c.EdgeUser }),
		stringField("EDGE_SERVER_PASSWORD", "", func(c *Config) *string { return &c.EdgePassword }),
		intField("EDGE_SERVER_PORT", 22, func(c *Config) *int { return &c.EdgePort }),
		stringField("EDGE_SERVER_PATH", "/uploaded_data", func(c *Config) *string { return &c.EdgePath }),
		stringField("API_BASE_URL", "http://127.0.0.1:8000", func(c *Config) *string { return &c.APIBaseURL }),
		stringField("API_USERNAME", "default", func(c *Config) *string { return &c.APIUsername }),
		stringField("API_PASSWORD", "", func(c *Config) *string { return &c.APIPassword }),
		stringField("DATASET_ROOT", defaultDatasetRoot(), func(c *Config) *string { return &c.DatasetRoot }),
		stringField("MODEL_DIR", defaultModelDir(), func(c *Config) *string { return &c.ModelDir }),
	}
}

func defaultDatasetRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./dataset"
	}
	return home + "/robocap/dataset"
}

func defaultModelDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./model"
	}
	return home + "/robocap/model"
}

// Load resolves the configuration from the environment, the optional
// device config file, and defaults. filePath may be empty.
func Load(filePath string) (*Config, error) {
	fileValues := map[string]string{}
	if filePath != "" {
		var err error
		fileValues, err = ParseFile(filePath)
		if err != nil {
			return nil, err
		}
	}

	cfg := &Config{Sources: make(map[string]Source)}
	for _, f := range fields() {
		raw := f.def
		src := SourceDefault
		if v, ok := fileValues[f.key]; ok {
			raw = v
			src = SourceFile
		}
		if v, ok := os.LookupEnv(f.key); ok && v != "" {
			raw = v
			src = SourceEnv
		}
		if err := f.set(cfg, raw); err != nil {
			return nil, err
		}
		cfg.Sources[f.key] = src
	}
	return cfg, nil
}

// LogSources logs which layer provided each field, in key order.
func (c *Config) LogSources() {
	logger := log.WithComponent("config")
	keys := make([]string, 0, len(c.Sources))
	for k := range c.Sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		logger.Debug().Str("key", k).Str("source", string(c.Sources[k])).Msg("config field resolved")
	}
}

// Validate checks cross-field constraints for the selected mode.
func (c *Config) Validate() error {
	if c.FPS <= 0 {
		return fmt.Errorf("FPS must be positive, got %d", c.FPS)
	}
	if c.MemoryLimitGB <= 0 {
		return fmt.Errorf("MEMORY_LIMIT_GB must be positive, got %v", c.MemoryLimitGB)
	}
	if c.RepoID == "" {
		return fmt.Errorf("REPO_ID must not be empty")
	}
	if c.OffloadMode.Uploads() {
		if c.OffloadMode == types.OffloadEdge && c.EdgeHost == "" {
			return fmt.Errorf("EDGE_SERVER_HOST required for mode %s", c.OffloadMode)
		}
		if c.APIBaseURL == "" {
			return fmt.Errorf("API_BASE_URL required for mode %s", c.OffloadMode)
		}
	}
	return nil
}

// ParseFile reads a key=value device config file. Lines may carry
// inline comments after '#'; values may be single- or double-quoted.
func ParseFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("open config file %s: %w", path, err)
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected key=value, got %q", path, lineNo, line)
		}
		key = strings.TrimSpace(key)
		value = stripInlineComment(strings.TrimSpace(value))
		values[key] = unquote(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return values, nil
}

// stripInlineComment removes a trailing '# ...' comment unless the hash
// sits inside a quoted value.
func stripInlineComment(value string) string {
	inSingle, inDouble := false, false
	for i, r := range value {
		switch r {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case '#':
			if !inSingle && !inDouble {
				return strings.TrimSpace(value[:i])
			}
		}
	}
	return value
}

func unquote(value string) string {
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// WriteHardwareFields rewrites the hardware-identifying keys in the
// device file, preserving every other line verbatim. Used by the
// detection tool; credentials and mode settings survive regeneration.
func WriteHardwareFields(path string, hw map[string]string) error {
	for k := range hw {
		if !hardwareKeys[k] {
			return fmt.Errorf("%s is not a hardware key", k)
		}
	}

	var lines []string
	seen := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err == nil {
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			trimmed := strings.TrimSpace(line)
			if key, _, ok := strings.Cut(trimmed, "="); ok && !strings.HasPrefix(trimmed, "#") {
				key = strings.TrimSpace(key)
				if v, replace := hw[key]; replace {
					lines = append(lines, fmt.Sprintf("%s=%s", key, v))
					seen[key] = true
					continue
				}
			}
			lines = append(lines, line)
		}
	}

	keys := make([]string, 0, len(hw))
	for k := range hw {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s=%s", k, hw[k]))
	}

	out := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write config file %s: %w", path, err)
	}
	return nil
}
