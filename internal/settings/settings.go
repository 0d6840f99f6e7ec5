// Package settings loads the YAML configuration file that drives
// cmd/kanbeast-server and cmd/kanbeast-worker: board/workspace paths,
// the configured LLMConfig pool, the hub's listen address, and the
// orchestrator's tunables.
package settings

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kanbeast/kanbeast/internal/convo"
	"github.com/kanbeast/kanbeast/internal/llm"
)

// Config is the top-level YAML document.
type Config struct {
	Server       ServerConfig  `yaml:"server"`
	Workspace    WorkspaceConfig `yaml:"workspace"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	LLM          []llm.Config  `yaml:"llm"`
}

// ServerConfig is cmd/kanbeast-server's listen settings.
type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"httpPort"`
}

// WorkspaceConfig names where board state, conversation snapshots, and
// ticket workspace clones live on disk.
type WorkspaceConfig struct {
	BoardDir      string `yaml:"boardDir"`
	ConvoStoreDir string `yaml:"convoStoreDir"`
	ClonesDir     string `yaml:"clonesDir"`
	PromptsDir    string `yaml:"promptsDir"`
}

// OrchestratorConfig is cmd/kanbeast-worker's tunables.
type OrchestratorConfig struct {
	DefaultStrategy     string `yaml:"defaultStrategy"` // "compacting" or "sfcm"
	MaxIterations       int    `yaml:"maxIterations"`
	DispatchConcurrency int    `yaml:"dispatchConcurrency"`
	CompactionThreshold int    `yaml:"compactionThreshold"`
	HubURL              string `yaml:"hubUrl"`
}

// Strategy resolves the configured string into a convo.Strategy,
// defaulting to Compacting on anything
// unrecognized rather than failing startup over a typo.
func (o OrchestratorConfig) Strategy() convo.Strategy {
	if strings.EqualFold(o.DefaultStrategy, "sfcm") {
		return convo.StrategySFCM
	}
	return convo.StrategyCompacting
}

// defaults fills in the zero-config case: a workable single-machine
// setup with everything rooted under ./kanbeast-data.
func defaults() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", HTTPPort: 8080},
		Workspace: WorkspaceConfig{
			BoardDir:      "kanbeast-data/board",
			ConvoStoreDir: "kanbeast-data/conversations",
			ClonesDir:     "kanbeast-data/workspaces",
			PromptsDir:    "kanbeast-data/prompts",
		},
		Orchestrator: OrchestratorConfig{
			DefaultStrategy:     "compacting",
			MaxIterations:       25,
			DispatchConcurrency: 4,
			CompactionThreshold: convo.MinCompactionThreshold,
			HubURL:              "ws://localhost:8080/ws",
		},
	}
}

// Load reads path, expanding ${VAR} references against the process
// environment (so API keys never need to sit in the file in plain
// text), and overlays the result onto defaults(). An empty path
// returns defaults() unchanged, for a zero-config smoke test run.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("settings: open %s: %w", path, err)
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return Config{}, fmt.Errorf("settings: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("settings: parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("settings: at least one llm entry is required")
	}
	seen := make(map[string]bool, len(c.LLM))
	for _, l := range c.LLM {
		if l.ID == "" {
			return fmt.Errorf("settings: llm entry missing id")
		}
		if seen[l.ID] {
			return fmt.Errorf("settings: duplicate llm id %q", l.ID)
		}
		seen[l.ID] = true
	}
	return nil
}
