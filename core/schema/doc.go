/*
Package schema defines the configuration tree that drives dynamic entities.

Everything an entity is (its attributes, the provider that stores it, the
route it is served under, the validations applied to its payloads and the
tasks run around each operation) is declared in configuration rather than
code. The tree is loaded once and treated as read-only afterwards.

# Configuration

A minimal configuration in YAML:

	providers:
	  - name: main
	    type: sqlite
	    dsn: data/entities.db

	authorization:
	  type: allow-all

	entities:
	  - name: user
	    provider: main
	    disabled_routes: [delete]
	    access:
	      table: users
	    attributes:
	      - name: email
	        type: string
	        required: true
	        null_if_empty: true
	        access: { column: mail }
	        validations:
	          - type: email
	            phases: [create, update, patch]
	    tasks:
	      - name: audit
	        type: log
	        phases: [after_create, after_delete]

# Plugin Configurations

Providers, tasks, validations, routes and the authorization plugin are all
named instances of a typed plugin. The type selects the implementation; the
name tells apart several instances of the same type. Any key that is not a
reserved key of the configuration kind is kept in its Options:

  - ProviderConfiguration:      reserved name, type
  - TaskConfiguration:          reserved name, type, phases
  - ValidationConfiguration:    reserved name, type, phases
  - AuthorizationConfiguration: reserved type
  - RouteConfiguration:         reserved name

Option values are tagged Values (string, number, bool, list, map or null).
Plugins read the shape they expect through the typed accessors on Options
and fail explicitly on mismatch.

# Parsing

	root, err := schema.ParseFile("config/entities.yaml")
	root, err := schema.ParseDir("config/")

Environment variables are expanded before parsing. All documents are
validated structurally on parse; cross references (providers, named tasks
and validations) are resolved by the registry.
*/
package schema
