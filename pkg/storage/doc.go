/*
Package storage persists resource records.

Store is the one persistence interface in nimbus. The desired state store
sits on top of it, and manager.ReplicatedStore implements it again so the
same records can be replicated through Raft without the layers above
noticing. Every implementation stores JSON-encoded records and returns
copies; a caller mutating a returned record never changes stored state.

# Drivers

Open selects a driver by name:

	bolt    BoltDB file <dataDir>/nimbus.db (default)
	badger  Badger LSM directory <dataDir>/badger
	memory  process memory, lost on exit

# BoltDB Layout

	resources/            nested bucket per kind
	  vm/                 id -> record JSON
	  volume/
	  network/
	  service/
	  generic-resource/
	resource_kinds/       id -> kind

Listing a kind walks one nested bucket and never decodes the others. The
resource_kinds index resolves the bucket for GetRecord and DeleteRecord,
which only know the id. A save that would change a record's kind is
rejected; ids are unique across kinds.

# Badger Layout

Badger has no buckets, so the same structure is expressed as key prefixes:

	resource/<kind>/<id>  record JSON
	index/<id>            kind

ListRecordsByKind is a prefix iteration over resource/<kind>/.
NewInMemoryBadgerStore opens Badger with InMemory set, which tests use to
exercise the driver without a directory. Badger's own logging is routed to
zerolog; its info chatter is demoted to debug.

# Ordering

ListRecords returns records ordered by id for every driver. Bolt and Badger
get this from key order within a kind and sort across kinds; MemoryStore
sorts explicitly.

# Errors

GetRecord returns ErrNotFound for unknown ids. DeleteRecord of an unknown id
is not an error.
*/
package storage
