package cli

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// EnvFileVar names an env file that takes precedence over --env.
const EnvFileVar = "ZEKE_ENV_FILE"

// EnvLoader resolves the --env flag into a loaded .env file. Values in the
// file override the process environment.
type EnvLoader struct {
	value       *string
	defaultPath string
	logger      zerolog.Logger
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
		logger:      zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}).With().Timestamp().Logger(),
	}
}

// Load overloads the first candidate file that parses and returns its path.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	candidates := l.candidates()
	for _, candidate := range candidates {
		if err := godotenv.Overload(candidate.path); err != nil {
			if candidate.origin == EnvFileVar {
				l.logger.Warn().Err(err).Str("path", candidate.path).Msg("env file from " + EnvFileVar + " not loaded")
			}
			continue
		}
		l.logger.Debug().Str("path", candidate.path).Str("origin", candidate.origin).Msg("environment loaded")
		return candidate.path, nil
	}

	return "", fmt.Errorf("failed to load env file from %s", l.requested())
}

type envCandidate struct {
	path   string
	origin string
}

// candidates lists env files in the order they are tried: the override
// variable, the --env value, its basename, then the flag default.
func (l *EnvLoader) candidates() []envCandidate {
	var out []envCandidate
	seen := map[string]bool{}
	add := func(path, origin string) {
		path = strings.TrimSpace(path)
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		out = append(out, envCandidate{path: path, origin: origin})
	}

	add(os.Getenv(EnvFileVar), EnvFileVar)
	requested := l.requested()
	add(requested, "flag")
	add(filepath.Base(requested), "basename")
	add(l.defaultPath, "default")
	return out
}

func (l *EnvLoader) requested() string {
	if l.value != nil {
		if v := strings.TrimSpace(*l.value); v != "" {
			return v
		}
	}
	return l.defaultPath
}
