// Package schema holds entity field contracts (EntitySchema) and validates
// payloads against them. Field validation is a pure function: given a
// FieldDef and a value, it returns the (possibly empty) list of error
// messages, with no side effects and no dependency on anything but its
// arguments.
package schema
