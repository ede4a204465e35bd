package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel   string
	LogFormat  string
	LogFile    string
	DebugNexus bool
	DebugTLV   bool
	DebugREST  bool
	DebugTrait bool
	DebugFrame bool
	DebugAll   bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	fs.BoolVar(&f.DebugNexus, "debug-nexus", false,
		"Enable nexus session debugging (state transitions, channels, reconnects)")
	fs.BoolVar(&f.DebugTLV, "debug-tlv", false,
		"Enable TLV payload debugging (tags, wire types, values)")
	fs.BoolVar(&f.DebugREST, "debug-rest", false,
		"Enable REST subscribe debugging (buckets, revisions, merges)")
	fs.BoolVar(&f.DebugTrait, "debug-trait", false,
		"Enable trait observe debugging (trait labels, state types)")
	fs.BoolVar(&f.DebugFrame, "debug-frame", false,
		"Enable raw frame debugging (packet types, payload bytes)")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	// Any debug category forces debug level
	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	} else {
		if f.DebugNexus {
			cfg.EnableCategory(DebugNexus)
			cfg.Level = LevelDebug
		}
		if f.DebugTLV {
			cfg.EnableCategory(DebugTLV)
			cfg.Level = LevelDebug
		}
		if f.DebugREST {
			cfg.EnableCategory(DebugREST)
			cfg.Level = LevelDebug
		}
		if f.DebugTrait {
			cfg.EnableCategory(DebugTrait)
			cfg.Level = LevelDebug
		}
		if f.DebugFrame {
			cfg.EnableCategory(DebugFrame)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		if f.DebugNexus {
			debugCategories = append(debugCategories, "nexus")
		}
		if f.DebugTLV {
			debugCategories = append(debugCategories, "tlv")
		}
		if f.DebugREST {
			debugCategories = append(debugCategories, "rest")
		}
		if f.DebugTrait {
			debugCategories = append(debugCategories, "trait")
		}
		if f.DebugFrame {
			debugCategories = append(debugCategories, "frame")
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
