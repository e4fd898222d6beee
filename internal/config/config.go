// File: internal/config/config.go
// Brief: Internal config package implementation for 'config'.

// Package config defines the flag plumbing and runtime options for kulo,
// translating Cobra/pflag flag values into a strongly typed struct that the
// discovery and tailer pipelines consume.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ErrInvalidDuration reports a --since value that does not match <integer><unit>.
var ErrInvalidDuration = errors.New("invalid duration")

// DefaultSinceSeconds is applied when --since is not given.
const DefaultSinceSeconds int64 = 600

var sinceRe = regexp.MustCompile(`^(\d+)([smhd])$`)

// namespacePatternChars are the metacharacters that mark a namespace token as a regex.
const namespacePatternChars = `.*+?^${}()|[]\`

// Options holds all CLI configuration used by the tailer.
type Options struct {
	Namespaces       []string
	LabelSelector    string
	IncludePatterns  []string
	ExcludePatterns  []string
	ExcludeInit      bool
	ExcludeEphemeral bool
	Follow           bool
	SinceRaw         string
	SinceSeconds     int64
	TailLines        int64
	MaxContainers    int
	NoColorLogs      bool
	ExcludeLine      string
	Timestamps       bool
	Verbosity        int

	IncludeRegex     []*regexp.Regexp
	ExcludeRegex     []*regexp.Regexp
	ExcludeLineRegex *regexp.Regexp
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		SinceRaw:      "10m",
		SinceSeconds:  DefaultSinceSeconds,
		TailLines:     25,
		MaxContainers: 10,
	}
}

// AddFlags binds configuration flags to the provided Cobra command.
func (o *Options) AddFlags(cmd *cobra.Command) {
	o.BindFlags(cmd.Flags())
}

// BindFlags attaches kulo flags to an arbitrary FlagSet.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringSliceVarP(&o.Namespaces, "namespace", "n", nil, "Namespaces to aggregate; exact names and/or regex patterns, comma-separated. Defaults to the context namespace.")
	fs.StringVarP(&o.LabelSelector, "label-selector", "l", "", "Label selector passed verbatim to the pod list (server-side)")
	fs.StringSliceVarP(&o.IncludePatterns, "include", "i", nil, "Regex patterns to include pods by name (comma-separated, case-insensitive)")
	fs.StringSliceVarP(&o.ExcludePatterns, "exclude", "e", nil, "Regex patterns to exclude pods by name; exclusion wins over inclusion")
	fs.BoolVar(&o.ExcludeInit, "exclude-init", false, "Skip init containers")
	fs.BoolVar(&o.ExcludeEphemeral, "exclude-ephemeral", false, "Skip ephemeral debug containers")
	fs.BoolVar(&o.Follow, "follow", false, "Follow log output and attach to pods that appear later")
	fs.StringVarP(&o.SinceRaw, "since", "s", "10m", "Return logs newer than a relative duration like 30s, 5m, 1h, or 2d")
	fs.Int64VarP(&o.TailLines, "tail", "t", 25, "Number of historic log lines to request per container")
	fs.IntVar(&o.MaxContainers, "max-containers", 10, "Maximum containers streamed concurrently, 0 for unlimited")
	fs.BoolVar(&o.NoColorLogs, "no-color-logs", false, "Suppress all output styling")
	fs.StringVar(&o.ExcludeLine, "exclude-line", "", "Regex to skip log lines that match")
	fs.BoolVar(&o.Timestamps, "timestamps", false, "Request API timestamps and prefix rendered lines with them")
	fs.CountVarP(&o.Verbosity, "verbose", "v", "Increase diagnostic verbosity (repeatable)")
}

// RegisterAliases installs the --filter/-f alias for --include on the command.
func (o *Options) RegisterAliases(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringSliceVarP(&o.IncludePatterns, "filter", "f", nil, "Alias for --include")
	if flag := fs.Lookup("filter"); flag != nil {
		flag.Hidden = true
	}
}

// Validate ensures provided options are coherent and compiles regex inputs.
func (o *Options) Validate() error {
	seconds, err := ParseSince(o.SinceRaw)
	if err != nil {
		return err
	}
	o.SinceSeconds = seconds
	if o.TailLines < 0 {
		return fmt.Errorf("--tail cannot be negative")
	}
	if o.MaxContainers < 0 {
		return fmt.Errorf("--max-containers cannot be negative")
	}
	o.IncludeRegex, err = CompileFilterList(o.IncludePatterns)
	if err != nil {
		return fmt.Errorf("invalid --include pattern: %w", err)
	}
	o.ExcludeRegex, err = CompileFilterList(o.ExcludePatterns)
	if err != nil {
		return fmt.Errorf("invalid --exclude pattern: %w", err)
	}
	if o.ExcludeLine != "" {
		re, err := regexp.Compile(o.ExcludeLine)
		if err != nil {
			return fmt.Errorf("invalid --exclude-line regex %q: %w", o.ExcludeLine, err)
		}
		o.ExcludeLineRegex = re
	}
	for idx, ns := range o.Namespaces {
		o.Namespaces[idx] = strings.TrimSpace(ns)
	}
	o.LabelSelector = strings.TrimSpace(o.LabelSelector)
	return nil
}

// ParseSince converts a <integer><unit> duration (unit s, m, h, or d) to seconds.
// An empty string yields the default of ten minutes.
func ParseSince(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultSinceSeconds, nil
	}
	m := sinceRe.FindStringSubmatch(trimmed)
	if m == nil {
		return 0, fmt.Errorf("%w: %q (expected <integer><unit> with unit s, m, h, or d)", ErrInvalidDuration, raw)
	}
	var value int64
	for _, r := range m[1] {
		value = value*10 + int64(r-'0')
	}
	switch m[2] {
	case "s":
		return value, nil
	case "m":
		return value * 60, nil
	case "h":
		return value * 3600, nil
	case "d":
		return value * 86400, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
}

// CompileFilterList compiles comma-separated values into ordered
// case-insensitive regexes. Patterns match anywhere in the name, not anchored.
func CompileFilterList(values []string) ([]*regexp.Regexp, error) {
	var compiled []*regexp.Regexp
	for _, value := range values {
		for _, pattern := range strings.Split(value, ",") {
			pattern = strings.TrimSpace(pattern)
			if pattern == "" {
				continue
			}
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, fmt.Errorf("compile %q: %w", pattern, err)
			}
			compiled = append(compiled, re)
		}
	}
	return compiled, nil
}

// IsNamespacePattern reports whether a namespace token should be treated as a
// regex rather than an exact name.
func IsNamespacePattern(token string) bool {
	return strings.ContainsAny(token, namespacePatternChars)
}

// PodAdmitted applies the include/exclude filters to a pod name. A pod is
// admitted when it matches any include pattern (or the list is empty) and
// matches no exclude pattern. Exclusion wins.
func (o *Options) PodAdmitted(name string) bool {
	for _, re := range o.ExcludeRegex {
		if re.MatchString(name) {
			return false
		}
	}
	if len(o.IncludeRegex) == 0 {
		return true
	}
	for _, re := range o.IncludeRegex {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
