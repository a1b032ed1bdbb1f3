// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package jellyfin

// Item is the subset of the server's BaseItemDto kept in the item cache.
type Item struct {
	ID                string            `json:"Id,omitempty"`
	Name              string            `json:"Name,omitempty"`
	Type              string            `json:"Type,omitempty"`
	MediaType         string            `json:"MediaType,omitempty"`
	CollectionType    string            `json:"CollectionType,omitempty"`
	ParentID          string            `json:"ParentId,omitempty"`
	SeriesID          string            `json:"SeriesId,omitempty"`
	SeriesName        string            `json:"SeriesName,omitempty"`
	SeasonID          string            `json:"SeasonId,omitempty"`
	Album             string            `json:"Album,omitempty"`
	AlbumArtist       string            `json:"AlbumArtist,omitempty"`
	Overview          string            `json:"Overview,omitempty"`
	Path              string            `json:"Path,omitempty"`
	IsFolder          bool              `json:"IsFolder,omitempty"`
	IndexNumber       int               `json:"IndexNumber,omitempty"`
	ParentIndexNumber int               `json:"ParentIndexNumber,omitempty"`
	ProductionYear    int               `json:"ProductionYear,omitempty"`
	RunTimeTicks      int64             `json:"RunTimeTicks,omitempty"`
	ChildCount        int               `json:"ChildCount,omitempty"`
	ProviderIDs       map[string]string `json:"ProviderIds,omitempty"`
	ImageTags         map[string]string `json:"ImageTags,omitempty"`
	UserData          *UserItemData     `json:"UserData,omitempty"`
}

// UserItemData is the per-user state of an item (watched, favourite, resume point).
type UserItemData struct {
	Played                bool    `json:"Played"`
	IsFavorite            bool    `json:"IsFavorite"`
	PlaybackPositionTicks int64   `json:"PlaybackPositionTicks"`
	PlayCount             int     `json:"PlayCount"`
	PlayedPercentage      float64 `json:"PlayedPercentage,omitempty"`
	UnplayedItemCount     int     `json:"UnplayedItemCount,omitempty"`
	LastPlayedDate        string  `json:"LastPlayedDate,omitempty"`
}

// ItemsResult is the envelope of item list endpoints.
type ItemsResult struct {
	Items            []Item `json:"Items"`
	TotalRecordCount int    `json:"TotalRecordCount"`
	StartIndex       int    `json:"StartIndex"`
}

// SystemInfo represents Jellyfin server system information.
type SystemInfo struct {
	ServerName      string `json:"ServerName"`
	Version         string `json:"Version"`
	ID              string `json:"Id"`
	OperatingSystem string `json:"OperatingSystem"`
}

// User represents a Jellyfin user.
type User struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

// ItemsQuery filters GetItems. Empty fields are left out of the request.
type ItemsQuery struct {
	IDs      []string
	ParentID string
	Fields   []string
}

// AllItemFields requests every optional field the cache keeps.
var AllItemFields = []string{
	"ChildCount",
	"Overview",
	"ParentId",
	"Path",
	"PrimaryImageAspectRatio",
	"ProviderIds",
	"SeriesPrimaryImage",
	"MediaSources",
	"MediaStreams",
	"Chapters",
	"Genres",
	"People",
	"Studios",
	"Tags",
}
