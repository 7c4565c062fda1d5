package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- PALLET TABLE (provenance rows, keyed by pallet number with '/' -> '_')
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS pallet SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS plt_num ON pallet TYPE string;
    DEFINE FIELD IF NOT EXISTS scope ON pallet TYPE string;
    DEFINE FIELD IF NOT EXISTS sequence ON pallet TYPE int;
    DEFINE FIELD IF NOT EXISTS series ON pallet TYPE string;
    DEFINE FIELD IF NOT EXISTS product_code ON pallet TYPE string;
    DEFINE FIELD IF NOT EXISTS product_qty ON pallet TYPE float;
    DEFINE FIELD IF NOT EXISTS plt_remark ON pallet TYPE string;
    DEFINE FIELD IF NOT EXISTS location ON pallet TYPE string;
    DEFINE FIELD IF NOT EXISTS parent_ref ON pallet TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS operator_id ON pallet TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS pdf_url ON pallet TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON pallet TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS pallet_scope_seq ON pallet FIELDS scope, sequence UNIQUE;
    DEFINE INDEX IF NOT EXISTS pallet_parent ON pallet FIELDS parent_ref;
    DEFINE INDEX IF NOT EXISTS pallet_series ON pallet FIELDS series;

    -- ==========================================================================
    -- SEQUENCE COUNTER (per-scope high-water mark, keyed by scope)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS sequence_counter SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS scope ON sequence_counter TYPE string;
    DEFINE FIELD IF NOT EXISTS last ON sequence_counter TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS updated ON sequence_counter TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- SERIES REGISTRY (globally unique series codes, keyed by code)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS series SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS code ON series TYPE string;
    DEFINE FIELD IF NOT EXISTS reserved ON series TYPE datetime DEFAULT time::now();
`
