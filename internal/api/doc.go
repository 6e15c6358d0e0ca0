// Package api serves the REST surface over gin.
//
// Handlers are thin: uploads go to the upload coordinator, manual extraction
// to the extraction service, and every read is a primary-key lookup against
// the session store. Errors carry a services marker and are mapped to HTTP
// status codes in one place (errors.go). Responses use snake_case JSON to match
// the browser client.
//
// The status endpoint never blocks on worker progress; clients poll it with
// the loop in internal/client.
package api
