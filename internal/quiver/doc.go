// Package quiver is a client for the QuiverQuant REST API. It fetches the
// daily insider trading feed with rate limiting and bounded retries, and
// decodes the response into domain transactions.
package quiver
