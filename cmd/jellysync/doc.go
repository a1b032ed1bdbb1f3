// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

// Package main runs jellysync, a headless Jellyfin client that mirrors
// server-side state (running tasks, item snapshots, the user's libraries)
// from the Jellyfin realtime socket and REST API.
//
// # Startup Order
//
//  1. Configuration: defaults, optional YAML file, environment (Koanf v2)
//  2. Logging: zerolog configured from the logging section
//  3. Storage: BadgerDB, in memory unless STORAGE_PATH is set
//  4. Session: server URL, device ID and, when a token is configured, the user
//  5. REST client: rate limited, optionally behind a circuit breaker
//  6. Message bus and socket transport
//  7. Stores: task registry, item cache, user libraries, player element
//  8. Supervisor tree: socket transport, library refresh, status server
//
// # Configuration
//
//	export JELLYFIN_URL=http://localhost:8096
//	export JELLYFIN_TOKEN=your-access-token
//	export STATUS_ENABLED=true
//	export STATUS_LISTEN=127.0.0.1:8097
//	./jellysync
//
// Without a token the process starts signed out: the socket stays idle and
// every store keeps its defaults until the session is populated.
//
// # Signal Handling
//
// SIGINT and SIGTERM stop the supervisor tree, close the stores and the bus,
// then flush storage.
package main
