package db

import "github.com/jmoiron/sqlx"

// Pool pairs the writer and reader connections of the run store.
//
// With SQLite the writer is a single connection and the reader a small
// read-only pool working off WAL snapshots. With PostgreSQL both are the
// same *sqlx.DB.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool creates a Pool from separate writer and reader connections.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Writer returns the connection used for INSERT and UPDATE.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the connection used for SELECT.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both pools once.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}
