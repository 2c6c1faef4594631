// Package config loads the YAML process configuration, applies environment
// overrides and validates it.
//
// Example file:
//
//	database:
//	  path: /var/lib/indigo/indigo.db
//	platform:
//	  base_url: https://services.leadconnectorhq.com
//	  api_version: "2021-07-28"
//	  timeout: 15s
//	rate_limit:
//	  capacity: 100
//	  refill_per_second: 10
//	  per_tenant: false
//	policy:
//	  paths: [./policies]
//	  watch: true
//	telemetry:
//	  logging:
//	    level: info
//	    format: console
//	  metrics:
//	    enabled: true
//	    listen_address: ":9464"
//	  activity:
//	    capacity: 500
package config
