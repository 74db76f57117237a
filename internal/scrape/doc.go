// Package scrape defines the domain types and ports shared by the job,
// session, browser, extraction, and orchestration subsystems of the
// listing harvester.
package scrape
