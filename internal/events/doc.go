// Package events provides a minimal in-process event mechanism that lets
// services request background work without importing the task runner, and
// lets webhook handlers dispatch side effects without awaiting them.
package events
