// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package store

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/jellysync/internal/jellyfin"
	"github.com/tomtom215/jellysync/internal/logging"
	"github.com/tomtom215/jellysync/internal/player"
)

// PlayerElementState is the state of the local player element. It is not
// persisted.
type PlayerElementState struct {
	IsFullscreenMounted bool `json:"isFullscreenMounted"`
	IsPiPMounted        bool `json:"isPiPMounted"`
	IsStretched         bool `json:"isStretched"`
}

func defaultPlayerElementState() PlayerElementState {
	return PlayerElementState{IsStretched: true}
}

// PlayerElement tracks where the local player is mounted, moves between the
// fullscreen routes as playback starts and stops, and applies the selected
// subtitle track to the media surface.
type PlayerElement struct {
	mu          sync.Mutex
	state       PlayerElementState
	router      player.Router
	newRenderer player.RendererFactory
	renderer    player.SubtitleRenderer

	unsubscribe func()
	closeOnce   sync.Once
	log         zerolog.Logger
}

// NewPlayerElement creates the store. A nil router is replaced by an
// in-memory one starting at "/"; a nil factory disables SSA rendering.
func NewPlayerElement(router player.Router, renderers player.RendererFactory, session Session) *PlayerElement {
	if router == nil {
		router = player.NewHistoryRouter("/")
	}
	p := &PlayerElement{
		state:       defaultPlayerElementState(),
		router:      router,
		newRenderer: renderers,
		log:         logging.WithComponent("player"),
	}
	p.unsubscribe = onSessionEnd(session, p.reset)
	return p
}

// State returns the current state.
func (p *PlayerElement) State() PlayerElementState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetFullscreenMounted records whether the fullscreen player is mounted.
func (p *PlayerElement) SetFullscreenMounted(mounted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.IsFullscreenMounted = mounted
}

// SetPiPMounted records whether the picture-in-picture player is mounted.
func (p *PlayerElement) SetPiPMounted(mounted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.IsPiPMounted = mounted
}

// SetStretched sets whether video fills the surface.
func (p *PlayerElement) SetStretched(stretched bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.IsStretched = stretched
}

// IsFullscreenVideoPlayer reports whether the router is on the fullscreen video route.
func (p *PlayerElement) IsFullscreenVideoPlayer() bool {
	return p.router.CurrentPath() == player.FullscreenVideoRoute
}

// ToggleFullscreenVideoPlayer opens the fullscreen video player, or goes
// back when it is already open.
func (p *PlayerElement) ToggleFullscreenVideoPlayer() {
	if p.IsFullscreenVideoPlayer() {
		p.router.Back()
		return
	}
	p.router.Push(player.FullscreenVideoRoute)
}

// OnCurrentItemChanged follows the current playback item. When playback
// ends on a fullscreen route the router goes back; when video playback
// starts from nothing the fullscreen video player opens.
func (p *PlayerElement) OnCurrentItemChanged(current, previous *jellyfin.Item, mediaType string) {
	path := p.router.CurrentPath()
	switch {
	case current == nil &&
		(strings.Contains(path, player.FullscreenMusicRoute) || strings.Contains(path, player.FullscreenVideoRoute)):
		p.router.Back()
	case current != nil && previous == nil && mediaType == player.MediaTypeVideo:
		p.ToggleFullscreenVideoPlayer()
	}
}

// ApplySubtitle shows the subtitle stream with the given server index.
//
// Every native text track is disabled and the SSA renderer is freed first.
// A matching VTT track is then shown; otherwise a matching SSA track with a
// source URL is handed to a new renderer. Embedded streams match neither and
// are left to a new transcode.
func (p *PlayerElement) ApplySubtitle(media player.MediaSurface, tracks player.SubtitleTracks, index int) error {
	if media == nil {
		return nil
	}

	textTracks := media.TextTracks()
	for _, tt := range textTracks {
		if tt.Mode() != player.TrackDisabled {
			tt.SetMode(player.TrackDisabled)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeRendererLocked()

	vttIdx := -1
	for i, t := range tracks.VTT {
		if t.SrcIndex == index {
			vttIdx = i
			break
		}
	}
	if vttIdx >= 0 && vttIdx < len(textTracks) {
		textTracks[vttIdx].SetMode(player.TrackShowing)
		return nil
	}

	for _, t := range tracks.ASS {
		if t.SrcIndex == index && t.Src != "" {
			return p.setSSATrackLocked(media, t.Src)
		}
	}
	return nil
}

func (p *PlayerElement) setSSATrackLocked(media player.MediaSurface, src string) error {
	if p.renderer != nil {
		if err := p.renderer.SetTrackByURL(src); err != nil {
			return fmt.Errorf("set subtitle track: %w", err)
		}
		return nil
	}
	if p.newRenderer == nil || !media.IsVideo() {
		return nil
	}
	r, err := p.newRenderer(media, src)
	if err != nil {
		return fmt.Errorf("create subtitle renderer: %w", err)
	}
	p.renderer = r
	return nil
}

// FreeSubtitleTrack destroys the SSA renderer if one exists. Errors and
// panics from the renderer are swallowed.
func (p *PlayerElement) FreeSubtitleTrack() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeRendererLocked()
}

func (p *PlayerElement) freeRendererLocked() {
	if p.renderer == nil {
		return
	}
	r := p.renderer
	p.renderer = nil

	defer func() {
		if rec := recover(); rec != nil {
			p.log.Debug().Interface("panic", rec).Msg("[player] renderer destroy panicked")
		}
	}()
	if err := r.Destroy(); err != nil {
		p.log.Debug().Err(err).Msg("[player] renderer destroy failed")
	}
}

func (p *PlayerElement) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = defaultPlayerElementState()
}

// Close stops reacting to session changes and frees the renderer.
func (p *PlayerElement) Close() {
	p.closeOnce.Do(func() {
		p.unsubscribe()
		p.FreeSubtitleTrack()
	})
}
