package main

import "errors"

var (
	ErrMissingDiscordToken = errors.New("DISCORD_TOKEN environment variable is required")
	ErrMissingHubURL       = errors.New("MERCHANTS_HUB_URL environment variable is required")
	ErrHubNotConnected     = errors.New("merchants hub is not connected")
	ErrDiscordNotReady     = errors.New("discord client is not ready")
	ErrDuplicateRecord     = errors.New("record already exists")
	ErrUnknownFilterKey    = errors.New("unknown filter key")
)
