//
// Copyright (C) 2026 ITL.  All rights reserved.
//
// ITL-PGVector is licensed under the Apache License Version 2.0.
//
//

package catalog

import (
	"context"
	"fmt"
	"strings"

	storage "github.com/myle1996kh/ITL-PGVector-sub000/storage/postgres"
)

// Table names
const (
	tableNameTenants           = "tenants"
	tableNameProviderModels    = "llm_provider_models"
	tableNameLLMBindings       = "tenant_llm_bindings"
	tableNameToolSpecs         = "tool_specs"
	tableNameAgentSpecs        = "agent_specs"
	tableNameAgentTools        = "agent_tools"
	tableNameTenantAgentGrants = "tenant_agent_grants"
	tableNameTenantToolGrants  = "tenant_tool_grants"
)

// Index suffixes
const (
	indexSuffixUniqueName   = "unique_name"
	indexSuffixUniqueTenant = "unique_tenant"
	indexSuffixLookup       = "lookup"
)

// SQL templates for table creation
const (
	sqlCreateTenantsTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	sqlCreateProviderModelsTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			id UUID PRIMARY KEY,
			provider VARCHAR(64) NOT NULL,
			model_name VARCHAR(255) NOT NULL,
			context_window INTEGER NOT NULL DEFAULT 0,
			input_cost_1k NUMERIC(12,6) NOT NULL DEFAULT 0,
			output_cost_1k NUMERIC(12,6) NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`

	sqlCreateLLMBindingsTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			id BIGSERIAL PRIMARY KEY,
			tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			llm_model_id UUID NOT NULL REFERENCES llm_provider_models(id),
			api_key_ciphertext TEXT NOT NULL,
			rate_limit_rpm INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	sqlCreateToolSpecsTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			kind VARCHAR(32) NOT NULL,
			endpoint_template TEXT NOT NULL DEFAULT '',
			static_headers JSONB DEFAULT NULL,
			body_template TEXT NOT NULL DEFAULT '',
			timeout_seconds INTEGER NOT NULL DEFAULT 30,
			input_schema JSONB DEFAULT NULL,
			output_format VARCHAR(64) NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`

	sqlCreateAgentSpecsTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			llm_model_id UUID DEFAULT NULL REFERENCES llm_provider_models(id),
			handler_class VARCHAR(255) NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`

	sqlCreateAgentToolsTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			agent_id UUID NOT NULL REFERENCES agent_specs(id) ON DELETE CASCADE,
			tool_id UUID NOT NULL REFERENCES tool_specs(id) ON DELETE CASCADE,
			priority INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (agent_id, tool_id)
		)`

	sqlCreateTenantAgentGrantsTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			agent_id UUID NOT NULL REFERENCES agent_specs(id) ON DELETE CASCADE,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (tenant_id, agent_id)
		)`

	sqlCreateTenantToolGrantsTable = `
		CREATE TABLE IF NOT EXISTS {{TABLE_NAME}} (
			tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			tool_id UUID NOT NULL REFERENCES tool_specs(id) ON DELETE CASCADE,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (tenant_id, tool_id)
		)`

	// tool_specs: unique tool names
	sqlCreateToolSpecsUniqueIndex = `
		CREATE UNIQUE INDEX IF NOT EXISTS {{INDEX_NAME}}
		ON {{TABLE_NAME}}(name)`

	// agent_specs: unique agent names
	sqlCreateAgentSpecsUniqueIndex = `
		CREATE UNIQUE INDEX IF NOT EXISTS {{INDEX_NAME}}
		ON {{TABLE_NAME}}(name)`

	// tenant_llm_bindings: exactly one binding per tenant
	sqlCreateLLMBindingsUniqueIndex = `
		CREATE UNIQUE INDEX IF NOT EXISTS {{INDEX_NAME}}
		ON {{TABLE_NAME}}(tenant_id)`

	// agent_tools: selection order scan (priority asc within agent)
	sqlCreateAgentToolsLookupIndex = `
		CREATE INDEX IF NOT EXISTS {{INDEX_NAME}}
		ON {{TABLE_NAME}}(agent_id, priority)`
)

// tableDefinition defines a table with its SQL template.
type tableDefinition struct {
	name     string
	template string
}

// indexDefinition defines an index with its table, suffix and SQL template.
type indexDefinition struct {
	table    string
	suffix   string
	template string
}

// Table creation order respects foreign key references.
var tableDefs = []tableDefinition{
	{tableNameTenants, sqlCreateTenantsTable},
	{tableNameProviderModels, sqlCreateProviderModelsTable},
	{tableNameLLMBindings, sqlCreateLLMBindingsTable},
	{tableNameToolSpecs, sqlCreateToolSpecsTable},
	{tableNameAgentSpecs, sqlCreateAgentSpecsTable},
	{tableNameAgentTools, sqlCreateAgentToolsTable},
	{tableNameTenantAgentGrants, sqlCreateTenantAgentGrantsTable},
	{tableNameTenantToolGrants, sqlCreateTenantToolGrantsTable},
}

var indexDefs = []indexDefinition{
	{tableNameToolSpecs, indexSuffixUniqueName, sqlCreateToolSpecsUniqueIndex},
	{tableNameAgentSpecs, indexSuffixUniqueName, sqlCreateAgentSpecsUniqueIndex},
	{tableNameLLMBindings, indexSuffixUniqueTenant, sqlCreateLLMBindingsUniqueIndex},
	{tableNameAgentTools, indexSuffixLookup, sqlCreateAgentToolsLookupIndex},
}

func buildCreateTableSQL(tableName, template string) string {
	return strings.ReplaceAll(template, "{{TABLE_NAME}}", tableName)
}

// buildIndexName constructs an index name, e.g. "idx_tool_specs_unique_name".
func buildIndexName(tableName, suffix string) string {
	return fmt.Sprintf("idx_%s_%s", tableName, suffix)
}

func buildIndexSQL(tableName, suffix, template string) string {
	sql := strings.ReplaceAll(template, "{{TABLE_NAME}}", tableName)
	return strings.ReplaceAll(sql, "{{INDEX_NAME}}", buildIndexName(tableName, suffix))
}

// InitSchema creates the catalog tables and indexes if they do not exist.
// It is idempotent and safe to run at every startup.
func InitSchema(ctx context.Context, client storage.Client) error {
	for _, table := range tableDefs {
		tableSQL := buildCreateTableSQL(table.name, table.template)
		if _, err := client.ExecContext(ctx, tableSQL); err != nil {
			return fmt.Errorf("create table %s failed: %w", table.name, err)
		}
	}
	for _, idx := range indexDefs {
		indexSQL := buildIndexSQL(idx.table, idx.suffix, idx.template)
		if _, err := client.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("create index on %s failed: %w", idx.table, err)
		}
	}
	return nil
}
