// Package db owns the analytics schema the agent queries: a single records
// table of structured log spans, plus the demo seed data.
package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the records table DDL, verbatim in the system prompt so the
// model writes queries against real column names.
const Schema = `
CREATE TABLE records (
    created_at timestamptz,
    start_timestamp timestamptz,
    end_timestamp timestamptz,
    trace_id text,
    span_id text,
    parent_span_id text,
    level log_level,
    span_name text,
    message text,
    attributes_json_schema text,
    attributes jsonb,
    tags text[],
    is_exception boolean,
    otel_status_message text,
    service_name text
);
`

const createLevelEnumSQL = `
DO $$ BEGIN
    CREATE TYPE log_level AS ENUM ('debug', 'info', 'warning', 'error', 'critical');
EXCEPTION WHEN duplicate_object THEN NULL;
END $$;`

const createRecordsTableSQL = `
CREATE TABLE IF NOT EXISTS records (
    created_at timestamptz,
    start_timestamp timestamptz,
    end_timestamp timestamptz,
    trace_id text,
    span_id text,
    parent_span_id text,
    level log_level,
    span_name text,
    message text,
    attributes_json_schema text,
    attributes jsonb,
    tags text[],
    is_exception boolean,
    otel_status_message text,
    service_name text
)`

// SQLExample pairs a natural-language request with the query the model
// should produce for it.
type SQLExample struct {
	Request  string
	Response string
}

// SQLExamples are few-shot pairs embedded in the system prompt.
var SQLExamples = []SQLExample{
	{
		Request:  "show me records where foobar is false",
		Response: "SELECT * FROM records WHERE attributes->>'foobar' = 'false' LIMIT 100",
	},
	{
		Request:  `show me records where attributes include the key "foobar"`,
		Response: "SELECT * FROM records WHERE attributes ? 'foobar' LIMIT 100",
	},
	{
		Request:  "show me records from yesterday",
		Response: "SELECT * FROM records WHERE start_timestamp::date > CURRENT_TIMESTAMP - INTERVAL '1 day' LIMIT 100",
	},
	{
		Request:  `show me error records with the tag "foobar"`,
		Response: "SELECT * FROM records WHERE level = 'error' and 'foobar' = ANY(tags) LIMIT 100",
	},
	{
		Request:  "count error logs from yesterday",
		Response: "SELECT COUNT(*) as error_count FROM records WHERE level = 'error' AND start_timestamp::date > CURRENT_TIMESTAMP - INTERVAL '1 day'",
	},
}

// EnsureSchema creates the log_level enum and records table if they do not
// exist, and seeds demo rows when the table is empty.
func EnsureSchema(ctx context.Context, database *sql.DB) error {
	if _, err := database.ExecContext(ctx, createLevelEnumSQL); err != nil {
		return fmt.Errorf("create log_level enum: %w", err)
	}
	if _, err := database.ExecContext(ctx, createRecordsTableSQL); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}

	var count int
	if err := database.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	if count > 0 {
		return nil
	}
	return seedSampleData(ctx, database)
}

type sampleRecord struct {
	level       string
	message     string
	serviceName string
	tags        string
}

var sampleRecords = []sampleRecord{
	{"error", "Connection timeout to database", "api-gateway", "{production,critical}"},
	{"error", "Failed to process payment", "payment-service", "{production,payment}"},
	{"warning", "High memory usage detected", "worker-service", "{production,performance}"},
	{"error", "Authentication failed for user", "auth-service", "{production,security}"},
	{"info", "Successfully processed batch job", "batch-processor", "{production,batch}"},
	{"error", "Rate limit exceeded", "api-gateway", "{production,rate-limit}"},
	{"debug", "Cache miss for key user:123", "cache-service", "{production,cache}"},
	{"error", "Failed to send notification email", "notification-service", "{production,email}"},
}

const insertSampleSQL = `
INSERT INTO records (
    created_at, start_timestamp, end_timestamp,
    trace_id, span_id, level, span_name, message,
    attributes, tags, is_exception, service_name
) VALUES (
    NOW() - INTERVAL '1 day' + $1 * INTERVAL '1 hour',
    NOW() - INTERVAL '1 day' + $1 * INTERVAL '1 hour',
    NOW() - INTERVAL '1 day' + $1 * INTERVAL '1 hour' + INTERVAL '100 ms',
    $2, $3, $4::log_level, $5, $6,
    $7::jsonb, $8::text[], $9, $10
)`

func seedSampleData(ctx context.Context, database *sql.DB) error {
	for i, rec := range sampleRecords {
		_, err := database.ExecContext(ctx, insertSampleSQL,
			i,
			fmt.Sprintf("trace-%04d", i),
			fmt.Sprintf("span-%04d", i),
			rec.level,
			rec.serviceName+".handler",
			rec.message,
			"{}",
			rec.tags,
			rec.level == "error",
			rec.serviceName,
		)
		if err != nil {
			return fmt.Errorf("seed record %d: %w", i, err)
		}
	}
	return nil
}
