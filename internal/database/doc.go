// Package database manages the PostgreSQL connection pool.
package database
