/*
Package manager replicates the record store through Raft.

ReplicatedStore implements storage.Store. Writes (SaveRecord, DeleteRecord)
are encoded as a Command and proposed to the Raft log; once committed the
RecordFSM applies them to the local store. Reads go straight to the local
store, so a follower may serve records slightly behind the leader.

	  desired.Store
	       │ SaveRecord / DeleteRecord
	       ▼
	┌───────────────────┐  Apply(Command)   ┌────────────┐
	│ ReplicatedStore   │──────────────────►│ raft.Raft  │
	└────────┬──────────┘                   └─────┬──────┘
	         │ GetRecord / List                  │ committed entries
	         ▼                                   ▼
	┌───────────────────┐   SaveRecord    ┌────────────┐
	│ local storage     │◄────────────────│ RecordFSM  │
	└───────────────────┘                 └────────────┘

# Commands

	save_record    data is the record JSON
	delete_record  data is the record id as a JSON string

# Persistence

Open keeps Raft state under <dataDir>/raft:

	raft-log.db     log entries (raft-boltdb)
	raft-stable.db  term and vote (raft-boltdb)
	snapshots/      file snapshots, two retained

A node with no existing state bootstraps itself as a single-voter cluster.
Snapshots contain every record; Restore replaces the local contents with
them.

# Leadership

Only the leader accepts writes. On a follower SaveRecord and DeleteRecord
return ErrNotLeader, which the API maps to 503. The API also rejects writes
on a follower up front, naming LeaderAddr in the message. WaitForLeader blocks
at startup until the node has won its first election.

Timings are tuned for a LAN: heartbeat and election timeouts of 500ms, a
50ms commit timeout and a 250ms leader lease.

# Metrics

MetricsCollector samples the node every 15 seconds into the
nimbus_raft_is_leader, nimbus_raft_peers_total, nimbus_raft_log_index and
nimbus_raft_applied_index gauges.
*/
package manager
