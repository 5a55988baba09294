package util

import (
	"testing"

	"github.com/ValentinKolb/mcache/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func parseClientFlags(t *testing.T, args ...string) *common.ClientConfig {
	t.Helper()
	viper.Reset()
	cmd := &cobra.Command{Use: "test"}
	SetupClientFlags(cmd)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v) failed: %v", args, err)
	}
	if err := BindCommandFlags(cmd); err != nil {
		t.Fatalf("BindCommandFlags failed: %v", err)
	}
	return GetClientConfig()
}

func TestClientFlagDefaults(t *testing.T) {
	config := parseClientFlags(t)
	if !config.HashWithPrefix {
		t.Error("hash-with-prefix must default to true")
	}
	if config.Distribution != "" || config.ResolvedDistribution() != common.DistModulo {
		t.Errorf("distribution = %q resolved to %q, expected modulo", config.Distribution, config.ResolvedDistribution())
	}
	if len(config.Servers) != 1 || config.Servers[0] != "localhost:11211" {
		t.Errorf("servers = %v", config.Servers)
	}
}

func TestClientFlagDistribution(t *testing.T) {
	testCases := []struct {
		name     string
		args     []string
		expected string
	}{
		{"ketama shorthand", []string{"--ketama"}, common.DistKetama},
		{"weighted shorthand", []string{"--ketama-weighted"}, common.DistKetamaWeighted},
		{"weighted wins over ketama", []string{"--ketama", "--ketama-weighted"}, common.DistKetamaWeighted},
		{"explicit distribution wins", []string{"--ketama", "--distribution", "consistent"}, common.DistConsistent},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := parseClientFlags(t, tc.args...)
			if got := config.ResolvedDistribution(); got != tc.expected {
				t.Errorf("ResolvedDistribution() = %q, expected %q", got, tc.expected)
			}
		})
	}

	if config := parseClientFlags(t, "--hash-with-prefix=false"); config.HashWithPrefix {
		t.Error("--hash-with-prefix=false must hash the plain key")
	}
	if config := parseClientFlags(t, "--segmented"); !config.Segmented || config.SegmentLimit() != common.DefaultSegmentSize {
		t.Errorf("--segmented = (%v, %d), expected segments of the default size", config.Segmented, config.SegmentLimit())
	}
}

func TestWrapString(t *testing.T) {
	wrapped := WrapString("a b c")
	if wrapped != "a b c" {
		t.Errorf("WrapString = %q", wrapped)
	}
}
