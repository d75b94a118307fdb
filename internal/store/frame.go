package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ayusman/mudra/internal/detector"
)

// HandFrame holds the tracked hands of one recorded frame.
type HandFrame struct {
	ID         int64                 `json:"id"`
	SessionID  string                `json:"session_id"`
	FrameIndex int                   `json:"frame_index"`
	Hands      []detector.HandResult `json:"hands"`
	CapturedAt time.Time             `json:"captured_at"`
}

// FrameRepository stores recorded hand frames.
type FrameRepository struct {
	db *sql.DB
}

// Frames returns the frame repository for this store.
func (s *Store) Frames() *FrameRepository {
	return &FrameRepository{db: s.db}
}

// Append records a frame and bumps the frame count of its session in a
// single transaction.
func (r *FrameRepository) Append(f *HandFrame) error {
	hands := f.Hands
	if hands == nil {
		hands = []detector.HandResult{}
	}
	data, err := json.Marshal(hands)
	if err != nil {
		return err
	}
	if f.CapturedAt.IsZero() {
		f.CapturedAt = time.Now()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`UPDATE sessions SET frames = frames + 1 WHERE id = ?`, f.SessionID)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	result, err = tx.Exec(
		`INSERT INTO hand_frames (session_id, frame_index, hand_count, hands, captured_at)
		 VALUES (?, ?, ?, ?, ?)`,
		f.SessionID, f.FrameIndex, len(hands), string(data), f.CapturedAt,
	)
	if err != nil {
		return err
	}

	if f.ID, err = result.LastInsertId(); err != nil {
		return err
	}

	return tx.Commit()
}

// ListBySession returns up to limit frames of a session in frame order,
// skipping the first offset. A non-positive limit returns all frames.
func (r *FrameRepository) ListBySession(sessionID string, limit, offset int) ([]HandFrame, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(
		`SELECT id, session_id, frame_index, hands, captured_at
		 FROM hand_frames
		 WHERE session_id = ?
		 ORDER BY frame_index, id
		 LIMIT ? OFFSET ?`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []HandFrame
	for rows.Next() {
		var f HandFrame
		var data string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.FrameIndex, &data, &f.CapturedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &f.Hands); err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return frames, nil
}
