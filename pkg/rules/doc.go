// Package rules evaluates business rules against a candidate payload and
// operation kind, grounded on the condition/action evaluator in
// offline_erp_operations.py's BusinessRuleEngine: priority-ordered rules,
// offline-only execution context, and the reject-with-message /
// require-sync-before-execute / set-field action kinds from spec.md §4.3.
package rules
