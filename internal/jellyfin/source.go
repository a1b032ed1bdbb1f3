// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

package jellyfin

import (
	"context"
	"fmt"
)

// UserProvider reports the user requests are scoped to.
type UserProvider interface {
	CurrentUserID() string
}

// UserItemSource scopes item queries to the session's current user. It is
// the fetch collaborator of the item cache and the user libraries store.
type UserItemSource struct {
	api   API
	users UserProvider
}

// NewUserItemSource creates a source reading through api.
func NewUserItemSource(api API, users UserProvider) *UserItemSource {
	return &UserItemSource{api: api, users: users}
}

func (s *UserItemSource) userID() (string, error) {
	id := s.users.CurrentUserID()
	if id == "" {
		return "", ErrNotAuthenticated
	}
	return id, nil
}

// ItemsByIDs fetches the given items with every cached field.
func (s *UserItemSource) ItemsByIDs(ctx context.Context, ids []string) ([]Item, error) {
	userID, err := s.userID()
	if err != nil {
		return nil, err
	}
	res, err := s.api.GetItems(ctx, userID, ItemsQuery{IDs: ids, Fields: AllItemFields})
	if err != nil {
		return nil, fmt.Errorf("items by id: %w", err)
	}
	return res.Items, nil
}

// ItemsByParent fetches the direct children of parentID.
func (s *UserItemSource) ItemsByParent(ctx context.Context, parentID string) ([]Item, error) {
	userID, err := s.userID()
	if err != nil {
		return nil, err
	}
	res, err := s.api.GetItems(ctx, userID, ItemsQuery{ParentID: parentID, Fields: AllItemFields})
	if err != nil {
		return nil, fmt.Errorf("items by parent %s: %w", parentID, err)
	}
	return res.Items, nil
}

// UserViews fetches the current user's libraries.
func (s *UserItemSource) UserViews(ctx context.Context) ([]Item, error) {
	userID, err := s.userID()
	if err != nil {
		return nil, err
	}
	res, err := s.api.GetUserViews(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user views: %w", err)
	}
	return res.Items, nil
}
