// Package ingest defines the domain model shared by the link ingestion
// pipeline: discovered links and their status machine, extracted entities,
// scrape history, failure taxonomy and the interfaces each stage implements.
package ingest
