// Package models contains GORM persistence models that map to database tables.
// They are kept apart from the listing and feed domain types so the domain
// stays free of ORM tags; each model carries its own ToDomain/From mapper.
//
// JSON columns are stored as strings and decoded in the mappers so the same
// models run on PostgreSQL (JSONB) and on SQLite in unit tests.
package models
