package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sessions table - one row per recorded capture run
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			device TEXT NOT NULL,
			mode TEXT NOT NULL CHECK(mode IN ('landmarks', 'box')),
			frames INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,

		// Hand frames table - tracked hands of one frame, stored as JSON
		`CREATE TABLE IF NOT EXISTS hand_frames (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			frame_index INTEGER NOT NULL,
			hand_count INTEGER NOT NULL,
			hands TEXT NOT NULL,
			captured_at DATETIME NOT NULL
		)`,

		// Settings table - runtime settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_hand_frames_session_id ON hand_frames(session_id, frame_index)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
