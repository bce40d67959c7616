// Package schema defines the record shapes exchanged between Gantt clients
// and the sync backend.
//
// # Overview
//
// Tasks and dependencies travel as open JSON objects. The server only
// interprets a handful of keys; everything else (name, startDate, duration,
// percentDone, ...) is opaque and stored verbatim.
//
//	{
//	  "id": 12,
//	  "name": "Write release notes",
//	  "startDate": "2026-03-02",
//	  "duration": 3,
//	  "parentId": 4
//	}
//
// # Reserved Keys
//
//   - id - permanent, store-assigned identifier (integer)
//   - $PhantomId - client-generated temporary id carried by new records
//   - $Phantom* - any other client bookkeeping key; never persisted
//
// # Kinds
//
// Two entity kinds exist, each backed by its own table:
//   - tasks
//   - dependencies
//
// Dependencies reference tasks through two configurable fields
// (fromEvent/toEvent by default).
//
// # Usage Examples
//
// Extracting the persistable payload of a new task:
//
//	rec := schema.Record{"$PhantomId": "_generated1", "name": "Design"}
//	if err := rec.ValidateAdded(); err != nil {
//	    return err
//	}
//	fields := rec.Fields() // {"name": "Design"}
//
// Parsing an id that arrived as a JSON number:
//
//	id, err := schema.ParseID(json.Number("42"))
package schema
