// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package config

import (
	"fmt"

	"github.com/tomtom215/jellysync/internal/validation"
)

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}

	if err := c.validateAuth(); err != nil {
		return err
	}

	return c.validateStatus()
}

// validateAuth rejects a user or token without a server to talk to.
func (c *Config) validateAuth() error {
	if c.Server.URL != "" {
		return nil
	}
	if c.Auth.Token != "" {
		return fmt.Errorf("JELLYFIN_TOKEN is set but JELLYFIN_URL is empty")
	}
	if c.Auth.UserID != "" {
		return fmt.Errorf("JELLYFIN_USER_ID is set but JELLYFIN_URL is empty")
	}
	return nil
}

// validateStatus requires a rate limit window when rate limiting is on.
func (c *Config) validateStatus() error {
	if !c.Status.Enabled || c.Status.RateLimitReqs == 0 {
		return nil
	}
	if c.Status.RateLimitWindow <= 0 {
		return fmt.Errorf("STATUS_RATE_LIMIT_WINDOW must be positive when STATUS_RATE_LIMIT_REQS is set")
	}
	return nil
}
