package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Events table - local journal of every action taken at the kiosk
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			occurred_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			kind TEXT NOT NULL CHECK(kind IN (
				'login', 'login_fail',
				'logout', 'logout_fail',
				'enroll', 'enroll_fail',
				'export'
			)),
			identity TEXT NOT NULL DEFAULT '',
			matched INTEGER NOT NULL DEFAULT 0,
			detail TEXT NOT NULL DEFAULT ''
		)`,

		// Settings table - operator preferences as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON events(occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
