// Package migrations はgoose形式のスキーママイグレーションを埋め込みます。
package migrations

import "embed"

// Migrations は埋め込まれたSQLマイグレーションです。
//
//go:embed *.sql
var Migrations embed.FS
