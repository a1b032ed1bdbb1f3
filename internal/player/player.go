// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

// Package player defines the collaborators of the local player element:
// navigation, the media surface and its text tracks, and the renderer used
// for SSA/ASS subtitles. It also holds the tick and time helpers shared by
// anything displaying playback positions.
package player

import "sync"

// Fullscreen routes the player element navigates to and away from.
const (
	FullscreenVideoRoute = "/playback/video"
	FullscreenMusicRoute = "/playback/music"
)

// MediaTypeVideo is the media type that opens the fullscreen video player.
const MediaTypeVideo = "Video"

// Router navigates between views.
type Router interface {
	CurrentPath() string
	Push(path string)
	Back()
}

// TrackMode is the display mode of a text track.
type TrackMode string

const (
	TrackDisabled TrackMode = "disabled"
	TrackHidden   TrackMode = "hidden"
	TrackShowing  TrackMode = "showing"
)

// TextTrack is one native (VTT) subtitle track of the media surface.
type TextTrack interface {
	Mode() TrackMode
	SetMode(mode TrackMode)
}

// MediaSurface is the element media plays on.
type MediaSurface interface {
	IsVideo() bool
	TextTracks() []TextTrack
}

// SubtitleTrack is an external subtitle stream parsed for local rendering.
// SrcIndex is the server's stream index.
type SubtitleTrack struct {
	SrcIndex int    `json:"srcIndex"`
	Src      string `json:"src,omitempty"`
}

// SubtitleTracks groups the parsed tracks of the current item by format.
type SubtitleTracks struct {
	VTT []SubtitleTrack
	ASS []SubtitleTrack
}

// SubtitleRenderer draws SSA/ASS subtitles over a video surface.
type SubtitleRenderer interface {
	SetTrackByURL(src string) error
	Destroy() error
}

// RendererFactory initializes a renderer against a video surface.
type RendererFactory func(surface MediaSurface, src string) (SubtitleRenderer, error)

// HistoryRouter is an in-memory Router keeping a stack of visited paths.
type HistoryRouter struct {
	mu      sync.Mutex
	history []string
}

// NewHistoryRouter starts at path.
func NewHistoryRouter(path string) *HistoryRouter {
	return &HistoryRouter{history: []string{path}}
}

// CurrentPath implements Router.
func (r *HistoryRouter) CurrentPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history[len(r.history)-1]
}

// Push implements Router.
func (r *HistoryRouter) Push(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, path)
}

// Back implements Router. The first entry is never popped.
func (r *HistoryRouter) Back() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) > 1 {
		r.history = r.history[:len(r.history)-1]
	}
}
