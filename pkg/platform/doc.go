// Package platform implements engine.ProvisioningClient against the CRM
// automation platform's HTTP API, plus a deterministic simulated client for
// offline runs.
package platform
