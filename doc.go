// Package pulsetrack and its sub-packages implement a service that follows wallets on a blockchain in real time and
// delivers their relevant transactions, enriched with asset metadata and USD values.
/*
pulsetrack runs one tracker per network (package tracker), started with cmd/tracker/main.go.

Architecture

The tracker keeps a single streaming connection (package lib/stream) to a notification provider, authenticated with a
credential taken from a rotating pool (package lib/credential). The connection keeps itself alive with heartbeats,
reconnects with exponential backoff and replays the subscriptions of the tracked subjects every time it opens.

Every notification goes through a pipeline:

1) normalization (package lib/chain) turns the provider payload into a network agnostic transaction.

2) the relevance filter (package lib/filter) drops stale, dust, failed or denylisted transactions.

3) the enrichment cache (package lib/enrich) adds the metadata and price of every asset involved, fetched from an
HTTP provider with retries and kept with per-field TTLs.

4) the tracker computes the USD values and hands the result, in arrival order unless configured otherwise, to its
observers and to a bounded in-memory history.

Subjects can be added or removed through the RESTful API (package api) or by sending subject requests to the message
broker (package lib/msg, AMQP or Kafka). Emitted transactions are published to the same broker. The tracked subjects
and the filter lists are persisted in a database (package lib/store: memory, MongoDB, PostgreSQL or Redis) so they
survive restarts.

The service can also be monitored via a Prometheus API by setting the flag "-m" at startup.
*/
package pulsetrack
