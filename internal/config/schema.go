package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// schema is the full set of recognized option names. Each entry parses a
// raw string value and assigns it to its destination field; there is no
// reflection and no name guessing. Keys not listed here are ignored, which
// mirrors the reference behavior of skipping unrelated section entries.
var schema = map[string]func(*Config, string) error{
	"host": func(c *Config, v string) error {
		c.Host = v
		return nil
	},
	"listen_port": func(c *Config, v string) error {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid listen_port %q: %w", v, err)
		}
		c.Port = p
		return nil
	},
	// "port" is the serial device path, after the conventional name of the
	// setting in serial tooling.
	"port": func(c *Config, v string) error {
		c.Device = v
		return nil
	},
	"baudrate": func(c *Config, v string) error {
		b, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid baudrate %q: %w", v, err)
		}
		c.BaudRate = b
		return nil
	},
	"bytesize": func(c *Config, v string) error {
		b, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid bytesize %q: %w", v, err)
		}
		c.DataBits = b
		return nil
	},
	"parity": func(c *Config, v string) error {
		p, err := parseParity(v)
		if err != nil {
			return err
		}
		c.Parity = p
		return nil
	},
	"stopbits": func(c *Config, v string) error {
		b, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid stopbits %q: %w", v, err)
		}
		c.StopBits = b
		return nil
	},
	"xonxoff": func(c *Config, v string) error {
		c.XonXoff = parseBool(v)
		return nil
	},
	"rtscts": func(c *Config, v string) error {
		c.RTSCTS = parseBool(v)
		return nil
	},
	"timeout": func(c *Config, v string) error {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", v, err)
		}
		c.Timeout = d
		return nil
	},
	"selector_timeout": func(c *Config, v string) error {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("invalid selector_timeout %q: %w", v, err)
		}
		c.PollInterval = d
		return nil
	},
	"eol_ser": func(c *Config, v string) error {
		b, err := parseEOL(v)
		if err != nil {
			return fmt.Errorf("invalid eol_ser: %w", err)
		}
		c.EOLSerial = b
		return nil
	},
	"eol_sock": func(c *Config, v string) error {
		b, err := parseEOL(v)
		if err != nil {
			return fmt.Errorf("invalid eol_sock: %w", err)
		}
		c.EOLSocket = b
		return nil
	},
	"max_line": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid max_line %q: %w", v, err)
		}
		c.MaxLineBytes = n
		return nil
	},
}

// parityNames maps the accepted spellings to the canonical single letter.
var parityNames = map[string]string{
	"n": "N", "none": "N",
	"e": "E", "even": "E",
	"o": "O", "odd": "O",
	"m": "M", "mark": "M",
	"s": "S", "space": "S",
}

func parseParity(v string) (string, error) {
	if p, ok := parityNames[strings.ToLower(strings.TrimSpace(v))]; ok {
		return p, nil
	}
	return "", fmt.Errorf("unsupported parity %q: expected none, even, odd, mark or space", v)
}

// parseBool accepts the reference truthy spellings; everything else is false.
func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "t", "yes", "y", "1":
		return true
	}
	return false
}

// parseSeconds parses a duration given as a decimal number of seconds,
// e.g. "0.5".
func parseSeconds(v string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("cannot be negative: %v", f)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func parseEOL(v string) ([]byte, error) {
	s, err := Unescape(v)
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, fmt.Errorf("EOL marker must not be empty")
	}
	return []byte(s), nil
}

// Load reads an INI config file and resolves the section for the given
// device name. An empty name loads the DEFAULT section. Keys present in
// DEFAULT act as fallbacks for every named section, matching the usual INI
// interpolation rules. The returned config is validated.
func Load(path, name string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	section := f.Section(ini.DefaultSection)
	if name != "" {
		section, err = f.GetSection(name)
		if err != nil {
			return nil, fmt.Errorf("no config section for device %q in %s", name, path)
		}
	}

	cfg := Default()
	cfg.Name = name
	if err := applyKeys(cfg, f.Section(ini.DefaultSection)); err != nil {
		return nil, err
	}
	if name != "" {
		if err := applyKeys(cfg, section); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func applyKeys(cfg *Config, section *ini.Section) error {
	for _, key := range section.Keys() {
		set, ok := schema[strings.ToLower(key.Name())]
		if !ok {
			continue
		}
		if err := set(cfg, key.Value()); err != nil {
			return err
		}
	}
	return nil
}
