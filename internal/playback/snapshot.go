/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"time"

	"github.com/friendsincode/jammy/internal/models"
)

// SongView is the client-facing shape of a catalog song.
type SongView struct {
	ID          string `json:"id"`
	SpotifyID   string `json:"spotify_id,omitempty"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album,omitempty"`
	AlbumArtURL string `json:"album_art_url,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

// EntryView is one queue entry with its song resolved.
type EntryView struct {
	ID       string   `json:"id"`
	Position int      `json:"position"`
	AddedBy  string   `json:"added_by"`
	Song     SongView `json:"song"`
}

// Snapshot is the full playback picture sent to a joining connection and
// broadcast after every transition. Position is derived at assembly time, so
// two snapshots taken at different instants report different positions while
// playing and identical positions while paused.
type Snapshot struct {
	SessionID   string               `json:"session_id"`
	RoomID      string               `json:"room_id"`
	State       models.PlaybackState `json:"state"`
	Playing     bool                 `json:"playing"`
	CurrentSong *SongView            `json:"current_song,omitempty"`
	PositionMS  int64                `json:"position_ms"`
	Exhausted   bool                 `json:"exhausted"`
	Queue       []EntryView          `json:"queue"`
	Revision    int64                `json:"revision"`
	TakenAt     time.Time            `json:"taken_at"`
}

func songView(song models.Song) SongView {
	return SongView{
		ID:          song.ID,
		SpotifyID:   song.SpotifyID,
		Title:       song.Title,
		Artist:      song.Artist,
		Album:       song.Album,
		AlbumArtURL: song.AlbumArtURL,
		DurationMS:  song.DurationMS,
	}
}

// Snapshot assembles the current playback picture for a session. Safe to
// call without the session lock; it reads a single consistent row and
// derives position from the anchor fields.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	session, err := s.store.SessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.snapshotOf(ctx, session)
}

func (s *Service) snapshotOf(ctx context.Context, session *models.Session) (*Snapshot, error) {
	now := s.now()

	pending, err := s.store.PendingEntries(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	songIDs := make([]string, 0, len(pending)+1)
	for _, entry := range pending {
		songIDs = append(songIDs, entry.SongID)
	}
	if session.CurrentSongID != nil {
		songIDs = append(songIDs, *session.CurrentSongID)
	}

	songs, err := s.store.SongsByIDs(ctx, songIDs)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		SessionID: session.ID,
		RoomID:    session.RoomID,
		State:     session.State(),
		Exhausted: session.Exhausted,
		Revision:  session.Revision,
		TakenAt:   now,
		Queue:     make([]EntryView, 0, len(pending)),
	}
	snap.Playing = snap.State == models.StatePlaying

	if session.CurrentSongID != nil {
		if song, ok := songs[*session.CurrentSongID]; ok {
			view := songView(song)
			snap.CurrentSong = &view
			snap.PositionMS = session.PositionAt(now, song.DurationMS)
		}
	}

	for _, entry := range pending {
		song, ok := songs[entry.SongID]
		if !ok {
			continue
		}
		snap.Queue = append(snap.Queue, EntryView{
			ID:       entry.ID,
			Position: entry.Position,
			AddedBy:  entry.AddedByID,
			Song:     songView(song),
		})
	}

	return snap, nil
}

// RecentlyPlayed lists the session's finished songs, newest first.
func (s *Service) RecentlyPlayed(ctx context.Context, sessionID string) ([]EntryView, error) {
	entries, err := s.store.RecentlyPlayed(ctx, sessionID, s.recentLimit)
	if err != nil {
		return nil, err
	}

	songIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		songIDs = append(songIDs, entry.SongID)
	}
	songs, err := s.store.SongsByIDs(ctx, songIDs)
	if err != nil {
		return nil, err
	}

	views := make([]EntryView, 0, len(entries))
	for _, entry := range entries {
		song, ok := songs[entry.SongID]
		if !ok {
			continue
		}
		views = append(views, EntryView{
			ID:       entry.ID,
			Position: entry.Position,
			AddedBy:  entry.AddedByID,
			Song:     songView(song),
		})
	}
	return views, nil
}
