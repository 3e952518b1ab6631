package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maltedev/closet-scraper/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadURLs(t *testing.T) {
	file := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(file, []byte("# saved links\nhttps://poshmark.com/listing/C-3\n\n  https://poshmark.com/listing/D-4  \n"), 0o644))

	urls, err := loadURLs(" https://poshmark.com/listing/A-1,,https://poshmark.com/listing/B-2", file)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://poshmark.com/listing/A-1",
		"https://poshmark.com/listing/B-2",
		"https://poshmark.com/listing/C-3",
		"https://poshmark.com/listing/D-4",
	}, urls)

	_, err = loadURLs("", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	before := *cfg

	applyFlags(cfg, "", -1, "", "", "", 0, 0, "", "")
	assert.Equal(t, before.Discovery, cfg.Discovery)
	assert.Equal(t, before.Output, cfg.Output)

	applyFlags(cfg, "https://poshmark.com/closet/x", 0, config.ModeParallel, config.FetchBrowser, "CSV", 6, 4, "out", "links.json")
	assert.Equal(t, "https://poshmark.com/closet/x", cfg.Discovery.ListingURL)
	assert.Equal(t, 0, cfg.Discovery.TargetCount)
	assert.Equal(t, config.ModeParallel, cfg.Scraper.Mode)
	assert.Equal(t, config.FetchBrowser, cfg.Scraper.Fetch)
	assert.Equal(t, config.FormatCSV, cfg.Output.Format)
	assert.Equal(t, 6, cfg.Scraper.Workers)
	assert.Equal(t, 4, cfg.Scraper.SessionLimit)
	assert.Equal(t, "out", cfg.Output.Dir)
	assert.Equal(t, "links.json", cfg.Output.StorageFile)
	require.NoError(t, cfg.Validate())
}
