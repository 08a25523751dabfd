/*
Package main implements fqdnguard, a local DNS resolution proxy that enforces
name-based allow and deny lists.

fqdnguard sits between local clients and a single upstream resolver:

  - UDP listener that accepts raw DNS datagrams
  - Per-name policy with deny precedence over allow, in allowlist or
    denylist mode
  - Silent drop of denied and unlisted queries, clients see a timeout
  - Session tracker that rewrites transaction IDs and matches upstream
    responses back to the original clients
  - Allow and deny lists from config and from files, reloaded on change
  - IP-based access control and per-client rate limiting
  - Query logging and Prometheus metrics
  - Admin HTTP API for list management and session introspection

Architecture:

Queries run through an ordered middleware chain. Each middleware either
passes the query along or ends the chain, denied traffic is never
answered. The order is:

 1. Recovery - panic recovery
 2. Metrics - Prometheus metrics collection
 3. AccessList - IP-based access control
 4. RateLimit - query rate limiting per client
 5. AccessLog - query logging
 6. Filter - allow and deny list decisions
 7. Forwarder - relay to the upstream resolver

Usage:

	fqdnguard [flags]

Flags:

	-c, --config string   location of config file (default "fqdnguard.conf")
	-h, --help            help for fqdnguard
	    --version         version for fqdnguard

Example:

	# start with default config, generated on first run
	fqdnguard

	# start with custom config
	fqdnguard -c /etc/fqdnguard/fqdnguard.conf
*/
package main
