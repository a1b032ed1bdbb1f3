// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

/*
Package supervisor runs the long-lived services of jellysync under a suture v4
supervisor tree.

# Overview

	RootSupervisor ("jellysync")
	├── SyncSupervisor ("sync-layer")
	│   ├── socket.Transport ("socket-transport")
	│   └── LibraryRefreshService ("library-refresh")
	└── APISupervisor ("api-layer")
	    └── HTTPServerService ("status-server", if status.enabled)

Each layer counts failures on its own. The socket transport reconnects by
itself and only returns when its context is canceled, so a restart by the
supervisor means it panicked.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddSyncService(transport)
	tree.AddSyncService(services.NewLibraryRefreshService(stores.Libraries, session))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	errCh := tree.ServeBackground(ctx)

Service return values follow suture: nil stops the service for good, an
error restarts it, and ctx.Err() after cancellation is a normal shutdown.

# Logging

Supervisor events go through sutureslog into the slog adapter of
internal/logging, so restarts and backoffs land in the zerolog output with
the other components.
*/
package supervisor
