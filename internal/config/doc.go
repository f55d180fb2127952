// Package config loads service configuration from the environment.
//
// Values come from AUDITTRAIL_* environment variables, optionally seeded
// from a .env file. Range and enum constraints live in an embedded CUE
// schema and are checked after parsing, so a bad deployment fails at
// startup with every violation listed.
package config
