/*
Package reconciler drives every declared resource toward its desired state.

The reconciler ties the engine together: it reads records from the desired
store, observes their live objects through the reader, asks the differ for
the next step, runs it through the executor and folds the result back into
the record.

# Architecture

Each kind has its own loop. A tick refreshes the live snapshot of the kind
and triggers a pass for every record of that kind; intent changes (put,
delete, retry, start, stop, restart) trigger a pass immediately.

	┌──────────────┐  tick (15s)   ┌────────────────────────────┐
	│ kind loop    │──────────────►│ Trigger(id) for each record│
	└──────────────┘               └─────────────┬──────────────┘
	┌──────────────┐  OnChange                   │
	│ desired store│─────────────────────────────┤
	└──────────────┘                             ▼
	                                 ┌───────────────────────┐
	                                 │ in flight for id?     │
	                                 │  yes: queue (coalesce)│
	                                 │  no:  start worker    │
	                                 └───────────┬───────────┘
	                                             ▼
	                                 load → observe → diff → act → apply

The tick never waits for passes. Passes for one id never overlap, so at most
one action per id is in flight; different ids proceed concurrently.

# Per-id Pass

 1. Load the record. A Failed record is left alone until its generation
    advances or a retry is requested.
 2. Observe the live object. When the read fails the observation is Unknown:
    the record keeps its last observed state, marked stale, and no action is
    taken. An unreadable cluster never causes a delete.
 3. Diff. With no action due, a record being deleted whose object is gone
    is removed; any other record settles to Ready, or Degraded when the
    object is not healthy.
 4. Act. The record moves to Reconciling (a deleting record stays Deleting)
    and the executor runs the action for the record's generation.
 5. Apply. The record is reloaded. If its generation advanced while the
    action ran, the result is discarded and the id is passed again.
    Otherwise success moves it to Ready or Degraded (a delete removes it)
    and a terminal failure moves it to Failed with LastError set.

# Phases

	Pending ──► Reconciling ──► Ready | Degraded | Failed
	Ready | Degraded | Failed ──► Reconciling   (new generation, retry, drift)
	any ──► Deleting ──► removed

Every phase change and every action outcome is published as an event.
*/
package reconciler
