// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package socket

import (
	"net/url"
	"strings"

	"github.com/tomtom215/jellysync/internal/logging"
)

// SocketURL derives the connection target from the session credentials.
// It reports false when any input is empty or the base URL is not an absolute
// http or https URL; a partial address is never returned.
//
//	SocketURL("tok", "https://media.example.com/jellyfin", "dev1")
//	// wss://media.example.com/jellyfin/socket?api_key=tok&deviceId=dev1
func SocketURL(token, baseURL, deviceID string) (string, bool) {
	if token == "" || baseURL == "" || deviceID == "" {
		return "", false
	}

	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "", false
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", false
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/socket"
	u.RawPath = ""
	u.Fragment = ""

	query := url.Values{}
	query.Set("api_key", token)
	query.Set("deviceId", deviceID)
	u.RawQuery = query.Encode()

	return u.String(), true
}

// redact masks the api_key of a socket URL for logs and status output.
func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", logging.SanitizeToken(q.Get("api_key")))
		u.RawQuery = q.Encode()
	}
	return u.String()
}
