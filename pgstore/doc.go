// Package pgstore implements the engine's collaborators on Postgres: the
// credential store, the role store, ownership lookups for ward resources and
// an audit sink. Tables are created by the migrations in internal/db.
package pgstore
