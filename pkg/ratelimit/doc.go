// Package ratelimit implements the token bucket that paces calls to the
// provisioning API.
//
// A Bucket holds up to Capacity tokens and refills continuously at RefillRate
// tokens per second. Acquire takes one token, waiting on a timer sized to the
// next token when the bucket is empty, and gives up when its context ends.
//
// A Governor hands out permits per tenant, either from one shared bucket (the
// platform limit is per application) or from one bucket per tenant.
package ratelimit
