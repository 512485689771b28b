package postgres

// schema creates the companies table. dedupe_key uses the C collation so
// that keyset paging in Keys orders bytes the same way Go compares strings.
const schema = `
CREATE TABLE IF NOT EXISTS companies (
	id              BIGSERIAL PRIMARY KEY,
	company_name    VARCHAR(100) NOT NULL,
	email           VARCHAR(100),
	phone_number    VARCHAR(15),
	import_errors   JSONB,
	is_duplicate    BOOLEAN NOT NULL DEFAULT FALSE,
	duplicate_of    BIGINT,
	import_batch    VARCHAR(255),
	dedupe_key      TEXT COLLATE "C",
	manual_override BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT companies_no_self_reference CHECK (duplicate_of IS NULL OR duplicate_of <> id),
	CONSTRAINT companies_duplicate_link CHECK (is_duplicate = (duplicate_of IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS companies_identity_idx ON companies (company_name, email, phone_number);
CREATE INDEX IF NOT EXISTS companies_dedupe_key_idx ON companies (dedupe_key, id) WHERE dedupe_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS companies_import_batch_idx ON companies (import_batch);
CREATE INDEX IF NOT EXISTS companies_duplicate_of_idx ON companies (duplicate_of) WHERE duplicate_of IS NOT NULL;
CREATE INDEX IF NOT EXISTS companies_created_at_idx ON companies (created_at DESC, id DESC);
`
