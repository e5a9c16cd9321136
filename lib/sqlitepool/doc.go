// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite databases intake keeps beside
// its stored data: the stream index and the feed catalogue.
//
// It is a thin layer over zombiezen.com/go/sqlite. Every connection
// gets the same pragmas (see pragmas in pool.go) and the caller's
// idempotent Schema. Callers write SQL directly with sqlitex.Execute;
// [Pool.Write] wraps the IMMEDIATE transaction boilerplate:
//
//	err := pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "DELETE FROM streams WHERE id = ?",
//	        &sqlitex.ExecOptions{Args: []any{id}})
//	})
//
// Connections are not safe for concurrent use. Each goroutine takes
// its own and puts it back.
package sqlitepool
