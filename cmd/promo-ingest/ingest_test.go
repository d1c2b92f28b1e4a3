package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestCollectCodes(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.gz", "SAVE10", "only1a", "SHARED3", "x", "bad code!"),
		writeGz(t, dir, "b.gz", "save10", "SHARED3", "ONLYB22"),
		writeGz(t, dir, "c.gz", "shared3", "ONLYC33", "  PAIRC44 "),
		writeGz(t, dir, "d.gz", "PAIRC44"),
	}

	tests := []struct {
		name   string
		quorum int
		want   []string
	}{
		{"any file", 1, []string{"ONLY1A", "ONLYB22", "ONLYC33", "PAIRC44", "SAVE10", "SHARED3"}},
		{"two files", 2, []string{"PAIRC44", "SAVE10", "SHARED3"}},
		{"three files", 3, []string{"SHARED3"}},
		{"all files", 4, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := collectCodes(context.Background(), zap.NewNop(), files, tt.quorum, 1000)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCollectCodes_MissingFile(t *testing.T) {
	_, err := collectCodes(context.Background(), zap.NewNop(), []string{"/nonexistent/a.gz"}, 1, 1000)
	assert.ErrorContains(t, err, "check file")
}

func TestCollectCodes_Canceled(t *testing.T) {
	dir := t.TempDir()
	path := writeGz(t, dir, "a.gz", "SAVE10", "SAVE20")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := collectCodes(ctx, zap.NewNop(), []string{path}, 1, 1000)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseFlags(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	o, err := parseFlags([]string{"-percent", "15", "-valid-until", "2026-12-31", "-dry-run", "a.gz", "b.gz", "c.gz"})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(15).Equal(o.percent))
	assert.Equal(t, 2, o.quorum)
	assert.Equal(t, []string{"a.gz", "b.gz", "c.gz"}, o.files)
	require.NotNil(t, o.validUntil)
	assert.Equal(t, time.Date(2026, 12, 31, 23, 59, 59, 999999999, time.UTC), *o.validUntil)

	o, err = parseFlags([]string{"-percent", "5", "-quorum", "3", "-database-url", "postgres://x", "a.gz"})
	require.NoError(t, err)
	assert.Equal(t, 1, o.quorum, "quorum is capped at the number of files")

	for _, args := range [][]string{
		{"-percent", "15", "-dry-run"},
		{"-percent", "0", "-dry-run", "a.gz"},
		{"-percent", "101", "-dry-run", "a.gz"},
		{"-percent", "ten", "-dry-run", "a.gz"},
		{"-percent", "10", "-quorum", "0", "-dry-run", "a.gz"},
		{"-percent", "10", "-valid-until", "tomorrow", "-dry-run", "a.gz"},
		{"-percent", "10", "a.gz"},
	} {
		_, err := parseFlags(args)
		assert.Error(t, err, args)
	}
}

func TestBuildRules(t *testing.T) {
	until := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rules := buildRules([]string{"AAA111", "BBB222"}, options{
		percent:     decimal.NewFromInt(20),
		description: "Partner",
		validUntil:  &until,
	})

	require.Len(t, rules, 2)
	assert.Equal(t, "BBB222", rules[1].Code)
	assert.True(t, decimal.NewFromInt(20).Equal(rules[1].Percent))
	assert.Equal(t, "Partner", rules[0].Description)
	assert.Equal(t, &until, rules[0].ValidUntil)
	assert.Nil(t, rules[0].ValidFrom)
}
