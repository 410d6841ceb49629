package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg := map[string]string{}
	err := ParseConfig(strings.NewReader(`# carbon receiver
USE_UDP=yes
host_udp=239.192.74.66

database_dsn=postgres://carbon@localhost/carbon?sslmode=disable
grouped_collectd_plugins=disk, cpu,df`), cfg)
	if err != nil {
		t.Fatal(err)
	}

	require.Equal(t, map[string]string{
		"use_udp":                  "yes",
		"host_udp":                 "239.192.74.66",
		"database_dsn":             "postgres://carbon@localhost/carbon?sslmode=disable",
		"grouped_collectd_plugins": "disk, cpu,df",
	}, cfg)

	err = ParseConfig(strings.NewReader("not a pair\n"), map[string]string{})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"yes", "True", "1", " YES "} {
		require.True(t, ParseBool(s), s)
	}
	for _, s := range []string{"no", "false", "0", "", "on"} {
		require.False(t, ParseBool(s), s)
	}
}
