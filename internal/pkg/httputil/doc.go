// Package httputil holds the JSON response helpers shared by the webhook,
// callback, and admin handlers.
package httputil
