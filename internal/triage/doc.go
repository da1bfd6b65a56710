// Package triage provides the decision pipeline for Sieve's security alert triage.
// It defines the Handler (validate, classify, decide, persist, notify), the
// Engine (prompt construction and model output parsing), the routing Policy,
// the Store and Notifier collaborator interfaces, and the domain models.
package triage
