// Package cmd implements the mofcom-crawler command line.
//
// The crawl subcommand runs one incremental pass over every selected country
// and keyword line, then exits. Configuration is read from an optional YAML
// file, MOFCOM_* environment variables and a .env file in the working
// directory, in increasing order of precedence for the environment.
package cmd
