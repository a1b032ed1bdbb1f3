// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

// Package services adapts jellysync components to suture.Service.
//
// HTTPServerService turns the ListenAndServe/Shutdown pair of the status
// server into a context-aware Serve. LibraryRefreshService refreshes the
// user's libraries each time a different user signs in. The socket transport
// already implements suture.Service and is added to the tree directly.
package services
