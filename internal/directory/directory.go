// Package directory resolves between phone numbers, IMSIs, and the
// host:port a handset last registered from.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Client is the directory lookup contract. Every operation may report
// "not found"; none is expected to block for long.
type Client interface {
	IMSIToPhone(ctx context.Context, imsi string) (phone string, found bool, err error)
	PhoneToIMSI(ctx context.Context, phone string) (imsi string, found bool, err error)
	IMSIToLocation(ctx context.Context, imsi string) (hostport string, found bool, err error)
	// Register records where an IMSI last registered from, and its phone
	// number once known, so later lookups resolve it.
	Register(ctx context.Context, imsi, phone, hostport string) error
}

// SQLiteClient is the subscriber registry backend (SubscriberRegistry.DB),
// a small local cache of IMSI<->phone<->location triples.
type SQLiteClient struct {
	db *sql.DB
	mu sync.Mutex
}

// Schema is the subscriber registry's DDL, exported so the --gensql CLI
// flag can print exactly what Open migrates against.
const Schema = `CREATE TABLE IF NOT EXISTS subscribers (
	imsi TEXT PRIMARY KEY,
	phone TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS subscribers_phone_idx ON subscribers(phone);
`

// Open opens (creating if absent) the sqlite-backed subscriber registry at
// path and ensures its schema exists.
func Open(path string) (*SQLiteClient, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("directory: open %s: %w", path, err)
	}
	c := &SQLiteClient{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteClient) migrate() error {
	if _, err := c.db.Exec(Schema); err != nil {
		return fmt.Errorf("directory: migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *SQLiteClient) Close() error {
	return c.db.Close()
}

func (c *SQLiteClient) IMSIToPhone(ctx context.Context, imsi string) (string, bool, error) {
	var phone string
	err := c.db.QueryRowContext(ctx, `SELECT phone FROM subscribers WHERE imsi = ?`, imsi).Scan(&phone)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("directory: imsi_to_phone: %w", err)
	}
	if phone == "" {
		return "", false, nil
	}
	return phone, true, nil
}

func (c *SQLiteClient) PhoneToIMSI(ctx context.Context, phone string) (string, bool, error) {
	var imsi string
	err := c.db.QueryRowContext(ctx, `SELECT imsi FROM subscribers WHERE phone = ? LIMIT 1`, phone).Scan(&imsi)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("directory: phone_to_imsi: %w", err)
	}
	return imsi, true, nil
}

func (c *SQLiteClient) IMSIToLocation(ctx context.Context, imsi string) (string, bool, error) {
	var location string
	err := c.db.QueryRowContext(ctx, `SELECT location FROM subscribers WHERE imsi = ?`, imsi).Scan(&location)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("directory: imsi_to_location: %w", err)
	}
	if location == "" {
		return "", false, nil
	}
	return location, true, nil
}

func (c *SQLiteClient) Register(ctx context.Context, imsi, phone, hostport string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO subscribers (imsi, phone, location) VALUES (?, ?, ?)
		ON CONFLICT(imsi) DO UPDATE SET
			phone = CASE WHEN excluded.phone != '' THEN excluded.phone ELSE subscribers.phone END,
			location = CASE WHEN excluded.location != '' THEN excluded.location ELSE subscribers.location END
	`, imsi, phone, hostport)
	if err != nil {
		return fmt.Errorf("directory: register: %w", err)
	}
	return nil
}
