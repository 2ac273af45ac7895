// Package config loads the YAML description of a production run.
//
// Values absent from the file keep their defaults: Load starts from
// DefaultConfig and decodes the file over it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/mcpipe/internal/layout"
	"github.com/ChuLiYu/mcpipe/internal/partition"
	"github.com/ChuLiYu/mcpipe/pkg/types"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is a complete production run description.
type Config struct {
	// ProdIDSuffix is appended to the production id; empty marks an official
	// base production (_v00).
	ProdIDSuffix      string `yaml:"prod_id"`
	LstchainVersion   string `yaml:"lstchain_version"`
	WorkflowKind      string `yaml:"workflow_kind"`
	SourceEnvironment string `yaml:"source_environment"`
	SlurmAccount      string `yaml:"slurm_account"`
	LstchainConfig    string `yaml:"lstchain_config"`

	// DL0Template is the data lake path of the raw files, with {particle}
	// where the particle directory goes.
	DL0Template string   `yaml:"dl0_template"`
	Particles   []string `yaml:"particles"`

	Reduce struct {
		TrainTestRatio  float64 `yaml:"train_test_ratio"`
		RandomSeed      int64   `yaml:"random_seed"`
		FilesPerJob     int     `yaml:"n_files_per_dl1"` // 0 sizes chunks from target_dl1_size_mb
		TargetDL1SizeMB float64 `yaml:"target_dl1_size_mb"`
		ReductionFactor float64 `yaml:"reduction_factor"`
	} `yaml:"r0_to_dl1"`

	Merge struct {
		KeepImages bool `yaml:"keep_images"`
	} `yaml:"merge_dl1"`

	DL1ToDL2 struct {
		Enabled   bool   `yaml:"enabled"`
		ModelsDir string `yaml:"models_dir"`
	} `yaml:"dl1_to_dl2"`

	IRF struct {
		Enabled     bool   `yaml:"enabled"`
		PointLike   bool   `yaml:"point_like"`
		GammaOffset string `yaml:"gamma_offset"`
	} `yaml:"irf"`

	LogDir        string        `yaml:"log_dir"` // workflow log directory, overrides the environment
	DryRun        bool          `yaml:"dry_run"`
	SubmitTimeout time.Duration `yaml:"submit_timeout"`

	Metrics struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
}

// DefaultConfig returns the settings used for anything the file leaves out.
func DefaultConfig() Config {
	var c Config
	c.WorkflowKind = string(types.KindLstchain)
	c.Particles = []string{
		string(types.GammaDiffuse),
		string(types.Gamma),
		string(types.Proton),
		string(types.Electron),
	}
	c.Reduce.TrainTestRatio = 0.5
	c.Reduce.RandomSeed = 42
	c.Reduce.TargetDL1SizeMB = partition.DefaultTargetSizeMB
	c.Reduce.ReductionFactor = partition.DefaultReductionFactor
	c.IRF.Enabled = true
	c.SubmitTimeout = 2 * time.Minute
	return c
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enum fields, ranges and cross-field requirements.
func (c *Config) Validate() error {
	if c.LstchainVersion == "" {
		return fmt.Errorf("%w: lstchain_version is required", ErrInvalidConfig)
	}
	if _, err := types.ParseWorkflowKind(c.WorkflowKind); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.DL0Template == "" {
		return fmt.Errorf("%w: dl0_template is required", ErrInvalidConfig)
	}
	if !strings.Contains(c.DL0Template, layout.ParticlePlaceholder) {
		return fmt.Errorf("%w: dl0_template needs the %s placeholder", ErrInvalidConfig, layout.ParticlePlaceholder)
	}
	if !strings.Contains(c.DL0Template, "/"+layout.TierDL0+"/") {
		return fmt.Errorf("%w: dl0_template must be under a /%s/ directory", ErrInvalidConfig, layout.TierDL0)
	}
	if _, err := c.ParticleList(); err != nil {
		return err
	}

	r := c.Reduce
	if r.TrainTestRatio <= 0 || r.TrainTestRatio >= 1 {
		return fmt.Errorf("%w: train_test_ratio %v must be in (0, 1)", ErrInvalidConfig, r.TrainTestRatio)
	}
	if r.FilesPerJob < 0 {
		return fmt.Errorf("%w: n_files_per_dl1 must not be negative", ErrInvalidConfig)
	}
	if r.FilesPerJob == 0 && (r.TargetDL1SizeMB <= 0 || r.ReductionFactor <= 0) {
		return fmt.Errorf("%w: automatic chunk size needs positive target_dl1_size_mb and reduction_factor", ErrInvalidConfig)
	}

	if c.DL1ToDL2.Enabled && c.DL1ToDL2.ModelsDir == "" {
		return fmt.Errorf("%w: dl1_to_dl2.models_dir is required when enabled", ErrInvalidConfig)
	}
	if err := c.IRFMode().Validate(); err != nil {
		return fmt.Errorf("%w: irf: %v", ErrInvalidConfig, err)
	}
	if c.SubmitTimeout < 0 {
		return fmt.Errorf("%w: submit_timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ProdID is the production identifier of a run started on date.
func (c *Config) ProdID(date time.Time) string {
	return layout.ProdID(date, c.LstchainVersion, c.ProdIDSuffix)
}

// Kind is the parsed workflow kind.
func (c *Config) Kind() types.WorkflowKind {
	kind, err := types.ParseWorkflowKind(c.WorkflowKind)
	if err != nil {
		return types.KindLstchain
	}
	return kind
}

// ParticleList parses the configured particles in order.
func (c *Config) ParticleList() ([]types.Particle, error) {
	if len(c.Particles) == 0 {
		return nil, fmt.Errorf("%w: no particles", ErrInvalidConfig)
	}
	out := make([]types.Particle, 0, len(c.Particles))
	for _, name := range c.Particles {
		p, err := types.ParseParticle(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// IRFMode is the IRF geometry of the run.
func (c *Config) IRFMode() layout.IRFMode {
	return layout.IRFMode{PointLike: c.IRF.PointLike, Offset: c.IRF.GammaOffset}
}
