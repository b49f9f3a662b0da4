// Package validate composes schema and rule-engine errors into the single
// outcome the engine consults at enqueue time: schema errors union rule
// errors, the operation acceptable iff the combined list is empty. The
// validator runs exactly once, at enqueue; it is never re-run as cache
// state changes later.
package validate
