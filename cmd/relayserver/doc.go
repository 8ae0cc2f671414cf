// Package main (cmd/relayserver) runs the social recovery relay.
//
// The relay stores account records, trust relationships and recovery
// requests in a SQL database (SQLite or PostgreSQL), keeps sealed vaults and
// keys in one or more content-addressed blob backends, and issues login
// tokens that guard the trustee routes. A background janitor abandons
// recoveries that have been idle longer than the inactivity window.
//
// The relay never sees plaintext secrets or shares: everything it stores is
// sealed on the client by the recovery CLI.
//
// Example usage:
//
//	relay-server --listen-addr=0.0.0.0:8080 \
//	    --db-dialect=postgres --db-dsn=postgres://relay@localhost/relay \
//	    --blob-storage=file:///var/lib/relay/blobs \
//	    --blob-storage=s3://relay-blobs/prod/?region=eu-west-1 \
//	    --jwt-secret="$(cat /run/secrets/jwt)" \
//	    --threshold=3 --initial-shares=3
package main
