// Custodian is a maintenance rule engine for self-hosted media
// libraries.
//
// It periodically evaluates operator-defined criteria against the
// items known to Radarr and Sonarr instances, enriched with watch
// statistics, and schedules cleanup actions (delete, unmonitor, flag)
// behind a configurable grace period.
//
// Usage:
//
//	# Start the server with default configuration
//	custodian run
//
//	# Start with a custom configuration file
//	custodian run --config /etc/custodian/config.yaml
//
//	# Validate configuration without starting
//	custodian validate
//
//	# Lint a rule seed file
//	custodian rules lint --file rules.yaml
//
//	# Show version information
//	custodian version
package main

func main() {
	Execute()
}
