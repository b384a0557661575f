// Package selector implements the header filter language used by brokers
// that select messages on the server side.
//
// The grammar is a subset of SQL-92 conditional expressions:
//
//	priority > 5 AND region IN ('eu', 'us')
//	type LIKE 'order.%' OR urgent = TRUE
//	customer IS NOT NULL AND amount BETWEEN 10 AND 100
//
// Identifiers refer to message headers. A missing header evaluates to NULL,
// and any comparison involving NULL is unknown; unknown never matches.
package selector
