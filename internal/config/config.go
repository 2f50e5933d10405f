// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config is the read-only runtime configuration shared by all binaries.
// It is assembled once at startup and passed down; nothing mutates it.
type Config struct {
	// Storage
	StorageRoot string
	DBPath      string
	RunRoot     string

	// Job queue
	RedisAddr string
	RedisDB   int

	// Artifact store mode
	IsLocal        bool
	FileServerHost string
	FileServerPort int

	// Calendar source
	CalendarBaseURL  string
	CalendarTZOffset string // fixed offset like "-04:00"

	// Upload
	LocationTag       string
	PlaylistRulesFile string
	HostAPIURL        string

	// External tools
	DownloadTool     string
	DownloadCredFile string
	FFmpegBin        string
	DiarizeBin       string
	DiarizeImage     string
	HostTokenFile    string

	// Worker lifecycle
	DrainTimeout time.Duration
}

// FromEnv assembles the configuration from the process environment.
func FromEnv() Config {
	storageRoot := ParseString("STORAGE_ROOT", "/var/lib/civicast/storage")
	return Config{
		StorageRoot: storageRoot,
		DBPath:      ParseString("DB_PATH", filepath.Join(storageRoot, "civicast.db")),
		RunRoot:     ParseString("RUN_ROOT", "/var/lib/civicast/run"),

		RedisAddr: ParseString("REDIS_ADDR", "127.0.0.1:6379"),
		RedisDB:   ParseInt("REDIS_DB", 0),

		IsLocal:        ParseBool("IS_LOCAL", false),
		FileServerHost: ParseString("FILE_SERVER_HOST", "127.0.0.1"),
		FileServerPort: ParseInt("FILE_SERVER_PORT", 8370),

		CalendarBaseURL:  ParseString("CALENDAR_BASE_URL", ""),
		CalendarTZOffset: ParseString("CALENDAR_TZ_OFFSET", "-04:00"),

		LocationTag:       ParseString("LOCATION_TAG", ""),
		PlaylistRulesFile: ParseString("PLAYLIST_RULES_FILE", ""),
		HostAPIURL:        ParseString("HOST_API_URL", ""),

		DownloadTool:     ParseString("DOWNLOAD_TOOL", "yt-dlp"),
		DownloadCredFile: ParseString("DOWNLOAD_CRED_FILE", ""),
		FFmpegBin:        ParseString("FFMPEG_BIN", "ffmpeg"),
		DiarizeBin:       ParseString("DIARIZE_BIN", "podman"),
		DiarizeImage:     ParseString("DIARIZE_IMAGE", ""),
		HostTokenFile:    ParseString("HOST_TOKEN_FILE", ""),

		DrainTimeout: ParseDuration("DRAIN_TIMEOUT", 10*time.Minute),
	}
}

// FileServerURL returns the base URL of the remote artifact file server.
func (c Config) FileServerURL() string {
	return fmt.Sprintf("http://%s:%d", c.FileServerHost, c.FileServerPort)
}

// CalendarLocation resolves the configured fixed offset into a time.Location.
// The offset is configurable rather than hard-coded because the upstream
// calendar's DST behaviour is unspecified.
func (c Config) CalendarLocation() (*time.Location, error) {
	var sign int
	var hh, mm int
	offset := c.CalendarTZOffset
	if len(offset) != 6 || (offset[0] != '+' && offset[0] != '-') {
		return nil, fmt.Errorf("invalid calendar offset %q, want ±HH:MM", offset)
	}
	if _, err := fmt.Sscanf(offset[1:], "%02d:%02d", &hh, &mm); err != nil {
		return nil, fmt.Errorf("invalid calendar offset %q: %w", offset, err)
	}
	sign = 1
	if offset[0] == '-' {
		sign = -1
	}
	if hh > 14 || mm > 59 {
		return nil, fmt.Errorf("invalid calendar offset %q", offset)
	}
	return time.FixedZone("UTC"+offset, sign*(hh*3600+mm*60)), nil
}
