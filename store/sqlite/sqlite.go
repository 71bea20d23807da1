// Copyright 2026 The Cypherock Protocols Authors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite persists wallets, exported xpubs, device authentication
// results and verified receive addresses in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	protocols "github.com/Cypherock/cysync-module-protocols-sub000"
	"github.com/Cypherock/cysync-module-protocols-sub000/flow"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// DB implements the flow store interfaces.
type DB struct {
	db *sql.DB
}

// New wraps a database whose tables were created by Init.
func New(db *sql.DB) *DB { return &DB{db: db} }

// Init creates the tables if they do not exist. Existing tables are not
// checked against the expected schema.
func Init(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS wallets
			( id TEXT PRIMARY KEY
			, name TEXT NOT NULL
			, has_pin INTEGER NOT NULL
			, has_passphrase INTEGER NOT NULL
			, added_at INTEGER NOT NULL
			)`,
		`CREATE TABLE IF NOT EXISTS xpubs
			( wallet_id TEXT NOT NULL
			, coin_id TEXT NOT NULL
			, xpub TEXT NOT NULL
			, PRIMARY KEY(wallet_id, coin_id)
			)`,
		`CREATE TABLE IF NOT EXISTS device_auth
			( serial TEXT PRIMARY KEY
			, verified INTEGER NOT NULL
			, checked_at INTEGER NOT NULL
			)`,
		`CREATE TABLE IF NOT EXISTS receive_addresses
			( wallet_id TEXT NOT NULL
			, coin_id TEXT NOT NULL
			, address TEXT NOT NULL
			, path TEXT NOT NULL
			, verified_at INTEGER NOT NULL
			, PRIMARY KEY(wallet_id, coin_id, address)
			)`,
		`CREATE INDEX IF NOT EXISTS receive_addresses_wallet
			ON receive_addresses(wallet_id, coin_id)`,
		`PRAGMA foreign_keys = ON`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("error creating tables: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (db *DB) Close() error { return db.db.Close() }

// DB returns the underlying database/sql DB.
func (db *DB) DB() *sql.DB { return db.db }

var _ interface {
	flow.WalletStore
	flow.CoinStore
	flow.DeviceStore
	flow.AddressStore
} = (*DB)(nil)

// WalletExists implements flow.WalletStore.
func (db *DB) WalletExists(ctx context.Context, id string) (bool, error) {
	var found string
	err := query(ctx, db.db, "wallets", []string{"id"}, map[string]any{"id": id}, &found)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveWallet implements flow.WalletStore. Saving a known wallet updates its
// name and flags.
func (db *DB) SaveWallet(ctx context.Context, w flow.Wallet) error {
	return insert(ctx, db.db, "wallets", map[string]any{
		"id":             w.ID,
		"name":           w.Name,
		"has_pin":        w.HasPin,
		"has_passphrase": w.HasPassphrase,
		"added_at":       time.Now().Unix(),
	}, []string{"id"}, "added_at")
}

// Wallets returns every stored wallet ordered by name.
func (db *DB) Wallets(ctx context.Context) ([]flow.Wallet, error) {
	rows, err := db.db.QueryContext(ctx,
		"SELECT id, name, has_pin, has_passphrase FROM wallets ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("error querying wallets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var wallets []flow.Wallet
	for rows.Next() {
		var w flow.Wallet
		if err := rows.Scan(&w.ID, &w.Name, &w.HasPin, &w.HasPassphrase); err != nil {
			return nil, fmt.Errorf("error scanning wallet row: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error querying wallets: %w", err)
	}
	return wallets, nil
}

// SaveXpub implements flow.CoinStore. A resynced coin replaces its xpub.
func (db *DB) SaveXpub(ctx context.Context, walletID string, x flow.Xpub) error {
	return insert(ctx, db.db, "xpubs", map[string]any{
		"wallet_id": walletID,
		"coin_id":   x.CoinID,
		"xpub":      x.Xpub,
	}, []string{"wallet_id", "coin_id"})
}

// Xpubs returns the xpubs stored for a wallet ordered by coin.
func (db *DB) Xpubs(ctx context.Context, walletID string) ([]flow.Xpub, error) {
	rows, err := db.db.QueryContext(ctx,
		"SELECT coin_id, xpub FROM xpubs WHERE wallet_id = ? ORDER BY coin_id", walletID)
	if err != nil {
		return nil, fmt.Errorf("error querying xpubs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var xpubs []flow.Xpub
	for rows.Next() {
		var x flow.Xpub
		if err := rows.Scan(&x.CoinID, &x.Xpub); err != nil {
			return nil, fmt.Errorf("error scanning xpub row: %w", err)
		}
		xpubs = append(xpubs, x)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error querying xpubs: %w", err)
	}
	return xpubs, nil
}

// SaveDeviceAuth implements flow.DeviceStore. Only the latest result per
// serial is kept.
func (db *DB) SaveDeviceAuth(ctx context.Context, serial string, verified bool) error {
	return insert(ctx, db.db, "device_auth", map[string]any{
		"serial":     serial,
		"verified":   verified,
		"checked_at": time.Now().Unix(),
	}, []string{"serial"})
}

// DeviceAuth returns the last authentication result stored for serial.
func (db *DB) DeviceAuth(ctx context.Context, serial string) (verified bool, checkedAt time.Time, err error) {
	var unix int64
	err = query(ctx, db.db, "device_auth", []string{"verified", "checked_at"},
		map[string]any{"serial": serial}, &verified, &unix)
	if err != nil {
		return false, time.Time{}, err
	}
	return verified, time.Unix(unix, 0), nil
}

// SaveReceiveAddress implements flow.AddressStore.
func (db *DB) SaveReceiveAddress(ctx context.Context, walletID, coinID, address, path string) error {
	return insert(ctx, db.db, "receive_addresses", map[string]any{
		"wallet_id":   walletID,
		"coin_id":     coinID,
		"address":     address,
		"path":        path,
		"verified_at": time.Now().Unix(),
	}, []string{"wallet_id", "coin_id", "address"})
}

// ReceiveAddresses returns the verified addresses of a wallet's coin.
func (db *DB) ReceiveAddresses(ctx context.Context, walletID, coinID string) ([]string, error) {
	rows, err := db.db.QueryContext(ctx,
		"SELECT address FROM receive_addresses WHERE wallet_id = ? AND coin_id = ? ORDER BY verified_at, address",
		walletID, coinID)
	if err != nil {
		return nil, fmt.Errorf("error querying addresses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var addresses []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("error scanning address row: %w", err)
		}
		addresses = append(addresses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error querying addresses: %w", err)
	}
	return addresses, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// insert writes kvs into table. On a conflict over the upsert columns the
// row is updated, except for the keep columns.
func insert(ctx context.Context, db execer, table string, kvs map[string]any, upsert []string, keep ...string) error {
	columns := slices.Sorted(maps.Keys(kvs))
	args := make([]any, len(columns))
	for i, name := range columns {
		args[i] = kvs[name]
	}
	markers := slices.Repeat([]string{"?"}, len(columns))

	var onConflict string
	if len(upsert) > 0 {
		var updates []string
		for _, key := range columns {
			if slices.Contains(upsert, key) || slices.Contains(keep, key) {
				continue
			}
			updates = append(updates, fmt.Sprintf("`%s` = excluded.`%s`", key, key))
		}
		onConflict = fmt.Sprintf(" ON CONFLICT(`%s`) DO UPDATE SET %s",
			strings.Join(upsert, "`, `"), strings.Join(updates, ", "))
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)%s",
		table, "`"+strings.Join(columns, "`, `")+"`", strings.Join(markers, ", "), onConflict)
	protocols.Debugf("sqlite: %s %+v", stmt, args)
	if _, err := db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("error inserting into %s: %w", table, err)
	}
	return nil
}

func query(ctx context.Context, db querier, table string, columns []string, where map[string]any, into ...any) error {
	if len(columns) != len(into) {
		panic("programming error - query must have the same number of columns and values")
	}

	whereKeys := slices.Sorted(maps.Keys(where))
	clauses := make([]string, len(whereKeys))
	whereVals := make([]any, len(whereKeys))
	for i, key := range whereKeys {
		clauses[i] = "`" + key + "` = ?"
		whereVals[i] = where[key]
	}

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		"`"+strings.Join(columns, "`, `")+"`", table, strings.Join(clauses, " AND "))
	protocols.Debugf("sqlite: %s %+v", stmt, where)

	err := db.QueryRowContext(ctx, stmt, whereVals...).Scan(into...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("error querying %s: %w", table, err)
	}
	return nil
}
