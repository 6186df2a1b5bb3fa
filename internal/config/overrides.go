package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Override is one command-line configuration override.
type Override struct {
	Key   string
	Value any
}

// ParseOverrides parses command-line override arguments of the form
// key=value. Values are typed by literal inspection: bool, int, float, quoted
// string, bare string.
func ParseOverrides(args []string) ([]Override, error) {
	out := make([]Override, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}

		kv := strings.SplitN(arg, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid override %q (expected key=value)", arg)
		}

		key := strings.TrimSpace(kv[0])
		if key == "" {
			return nil, fmt.Errorf("empty key in override %q", arg)
		}

		out = append(out, Override{Key: key, Value: parseLiteral(kv[1])})
	}
	return out, nil
}

func parseLiteral(s string) any {
	s = strings.TrimSpace(s)

	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}

	if i, err := strconv.Atoi(s); err == nil {
		return i
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}

	if len(s) >= 2 && ((s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')) {
		if s[0] == '\'' {
			s = `"` + s[1:len(s)-1] + `"`
		}
		if unq, err := strconv.Unquote(s); err == nil {
			return unq
		}
	}

	return s
}

// Apply copies overrides into the eval configuration. Unknown keys are an
// error so that a typo fails the run instead of silently evaluating the wrong
// thing.
func Apply(e *Eval, overrides []Override) error {
	for _, o := range overrides {
		switch o.Key {
		case "n_episodes":
			v, ok := o.Value.(int)
			if !ok {
				return fmt.Errorf("override n_episodes: expected int, got %v", o.Value)
			}
			e.NEpisodes = v
		case "batch_size":
			v, ok := o.Value.(int)
			if !ok {
				return fmt.Errorf("override batch_size: expected int, got %v", o.Value)
			}
			e.BatchSize = v
		case "seed":
			v, ok := o.Value.(int)
			if !ok {
				return fmt.Errorf("override seed: expected int, got %v", o.Value)
			}
			e.StartSeed = int64(v)
		case "max_episodes_rendered":
			v, ok := o.Value.(int)
			if !ok {
				return fmt.Errorf("override max_episodes_rendered: expected int, got %v", o.Value)
			}
			e.MaxEpisodesRendered = v
		case "out_dir":
			v, ok := o.Value.(string)
			if !ok {
				return fmt.Errorf("override out_dir: expected string, got %v", o.Value)
			}
			e.OutDir = v
		default:
			return fmt.Errorf("unknown override key %q", o.Key)
		}
	}
	return nil
}
