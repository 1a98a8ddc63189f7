// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/molgraph/policy"
	"github.com/jason-s-yu/molgraph/policy/molecule"
)

// Prefix is prepended to every environment variable the service reads.
const Prefix = "MOLGRAPH_"

// Config holds everything policyd needs at startup.
type Config struct {
	Addr            string        // listen address
	JWTSecret       string        // HS256 secret; empty disables auth
	CheckpointURL   string        // file path, redis://, postgres:// or sqlite:// URL; empty disables persistence
	Scope           string        // policy variable scope
	Kind            policy.Kind   // encoder architecture
	Seed            uint64        // parameter and sampling seed
	Parallelism     int           // batch fan-out bound, 0 = GOMAXPROCS
	AtomTypes       []string      // atom vocabulary, also the reserved slot count
	MaxAtoms        int           // molecule capacity
	EdgeTypes       int           // bond types
	MaxSteps        int           // edits per websocket episode
	LogLevel        logrus.Level  // logrus level
	LogFormat       string        // "text" or "json"
	ShutdownTimeout time.Duration // graceful shutdown bound
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Addr:            ":8080",
		Scope:           "pi",
		Kind:            policy.KindSmall,
		Seed:            1,
		AtomTypes:       append([]string(nil), molecule.DefaultAtomTypes...),
		MaxAtoms:        molecule.DefaultMaxAtoms,
		EdgeTypes:       molecule.DefaultEdgeTypes,
		MaxSteps:        64,
		LogLevel:        logrus.InfoLevel,
		LogFormat:       "text",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads optional .env files (missing files are ignored, existing
// environment variables win) and then the environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function, starting from Default.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	get := func(key string) (string, bool) {
		v, ok := lookup(Prefix + key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("ADDR"); ok {
		c.Addr = v
	}
	if v, ok := get("JWT_SECRET"); ok {
		c.JWTSecret = v
	}
	if v, ok := get("CHECKPOINT_URL"); ok {
		c.CheckpointURL = v
	}
	if v, ok := get("SCOPE"); ok {
		c.Scope = v
	}
	if v, ok := get("KIND"); ok {
		k, err := policy.ParseKind(v)
		if err != nil {
			return Config{}, fmt.Errorf("%sKIND: %w", Prefix, err)
		}
		c.Kind = k
	}
	if v, ok := get("SEED"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%sSEED: %w", Prefix, err)
		}
		c.Seed = n
	}
	ints := []struct {
		key string
		dst *int
		min int
	}{
		{"PARALLELISM", &c.Parallelism, 0},
		{"MAX_ATOMS", &c.MaxAtoms, 1},
		{"EDGE_TYPES", &c.EdgeTypes, 1},
		{"MAX_STEPS", &c.MaxSteps, 1},
	}
	for _, it := range ints {
		v, ok := get(it.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s%s: %w", Prefix, it.key, err)
		}
		if n < it.min {
			return Config{}, fmt.Errorf("%s%s: %d is below %d", Prefix, it.key, n, it.min)
		}
		*it.dst = n
	}
	if v, ok := get("ATOM_TYPES"); ok {
		var atoms []string
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				atoms = append(atoms, a)
			}
		}
		if len(atoms) == 0 {
			return Config{}, fmt.Errorf("%sATOM_TYPES: empty list", Prefix)
		}
		c.AtomTypes = atoms
	}
	if v, ok := get("LOG_LEVEL"); ok {
		lvl, err := logrus.ParseLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("%sLOG_LEVEL: %w", Prefix, err)
		}
		c.LogLevel = lvl
	}
	if v, ok := get("LOG_FORMAT"); ok {
		if v != "text" && v != "json" {
			return Config{}, fmt.Errorf("%sLOG_FORMAT: %q is not text or json", Prefix, v)
		}
		c.LogFormat = v
	}
	if v, ok := get("SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%sSHUTDOWN_TIMEOUT: %w", Prefix, err)
		}
		c.ShutdownTimeout = d
	}
	return c, nil
}

// Logger returns a logrus logger configured from c.
func (c Config) Logger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(c.LogLevel)
	if c.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}
